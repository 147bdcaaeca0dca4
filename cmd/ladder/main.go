// Офлайн-просмотр лесенки: строит модель по параметрам из конфига и
// печатает таблицу строк, не трогая биржу. Удобно подбирать параметры
// перед запуском бота.
package main

import (
	"fmt"
	"math"
	"os"
	"text/tabwriter"

	"github.com/spf13/viper"

	"github.com/banmdev/ccxtbots/internal/exchange"
	"github.com/banmdev/ccxtbots/internal/ladderstore"
	"github.com/banmdev/ccxtbots/internal/models"
	"github.com/banmdev/ccxtbots/internal/ordermodel"
)

func main() {
	viper.SetConfigName("ladder")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("configs")

	viper.SetDefault("symbol", "BTC-USDT-SWAP")
	viper.SetDefault("direction", "long")
	viper.SetDefault("price", 100.0)
	viper.SetDefault("risk", 10.0)
	viper.SetDefault("crv", 0.525)
	viper.SetDefault("leverage", 50)
	viper.SetDefault("min_roe", 0.01)
	viper.SetDefault("min_roe_trigger_distance", 0.75)
	viper.SetDefault("tick_size", 0.001)
	viper.SetDefault("lot_size", 0.001)
	viper.SetDefault("ct_val", 1.0)
	viper.SetDefault("maker_fee", 0.0002)
	viper.SetDefault("taker_fee", 0.0005)
	viper.SetDefault("dca.num_trades", 4)
	viper.SetDefault("dca.price_dev", 0.005)
	viper.SetDefault("dca.save_scale", 2.0)
	viper.SetDefault("dca.base_to_save_mult", 1.0)

	if err := viper.ReadInConfig(); err != nil {
		// без файла работаем на дефолтах и env
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("read ladder config: %w", err))
		}
	}
	viper.AutomaticEnv()

	direction := models.Direction(viper.GetString("direction"))
	if !direction.Valid() {
		panic(fmt.Errorf("invalid direction %q", direction))
	}

	gw := exchange.NewPaperGateway(exchange.PaperConfig{
		Balance:  viper.GetFloat64("risk") * 100,
		TickSize: viper.GetFloat64("tick_size"),
		LotSize:  viper.GetFloat64("lot_size"),
		CtVal:    viper.GetFloat64("ct_val"),
		MakerFee: viper.GetFloat64("maker_fee"),
		TakerFee: viper.GetFloat64("taker_fee"),
	})

	model, err := ordermodel.NewDCA(gw, ladderstore.NewMemory(), viper.GetString("symbol"), direction, ordermodel.DCAParams{
		NumTrades:      viper.GetInt("dca.num_trades"),
		PriceDev:       viper.GetFloat64("dca.price_dev"),
		SaveScale:      viper.GetFloat64("dca.save_scale"),
		BaseToSaveMult: viper.GetFloat64("dca.base_to_save_mult"),
	})
	if err != nil {
		panic(err)
	}

	err = model.Build(
		viper.GetFloat64("price"),
		viper.GetFloat64("risk"),
		viper.GetFloat64("crv"),
		viper.GetInt("leverage"),
		viper.GetFloat64("min_roe"),
		viper.GetFloat64("min_roe_trigger_distance"),
	)
	if err != nil {
		panic(err)
	}

	fmt.Printf("%s %s ladder from %v, risk %v, max drawdown %.4f\n\n",
		viper.GetString("symbol"), direction, viper.GetFloat64("price"), viper.GetFloat64("risk"), model.MaxDrawdown())

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\ttype\tside\tprice\tsize\tpos_size\tentry\ttp_price\ttp_min_roe\tr_pnl\tcrv\troe")
	for _, r := range model.Rows() {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Index, r.Kind, r.Direction,
			cell(r.Price), cell(r.Size), cell(r.CumSize), cell(r.EntryPrice),
			cell(r.TPPrice), cell(r.TPPriceMinROE), cell(r.RealizedPnl), cell(r.CRV), cell(r.ROE))
	}
	_ = w.Flush()
}

func cell(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.6g", v)
}
