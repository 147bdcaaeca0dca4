package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/banmdev/ccxtbots/internal/bot"
	"github.com/banmdev/ccxtbots/internal/ordermodel"
	"github.com/banmdev/ccxtbots/internal/signal"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	chatTelegramENV   = "TELEGRAM_CHAT_ID"
	databaseDSN       = "DATABASE_DSN"
	okxAPIKeyENV      = "OKX_API_KEY"
	okxAPISecretENV   = "OKX_API_SECRET"
	okxPassphraseENV  = "OKX_PASSPHRASE"
)

// Config ...
type Config struct {
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	DB      string `yaml:"db_dsn"`
	Service struct {
		AdminPort int `yaml:"admin_port"`
	} `yaml:"service"`

	Exchange struct {
		APIKey     string  `yaml:"api_key"`
		APISecret  string  `yaml:"api_secret"`
		Passphrase string  `yaml:"passphrase"`
		MakerFee   float64 `yaml:"maker_fee"`
		TakerFee   float64 `yaml:"taker_fee"`
	} `yaml:"exchange"`

	// Symbols — по экземпляру бота на символ.
	Symbols []string `yaml:"symbols"`

	Bot bot.Config `yaml:"bot"`

	// Model: dca или fixed, для обеих сторон.
	Model struct {
		Type  string                 `yaml:"type"`
		DCA   ordermodel.DCAParams   `yaml:"dca"`
		Fixed ordermodel.FixedParams `yaml:"fixed"`
	} `yaml:"model"`

	// Signal: emarsi или static (static полезен для ручной торговли).
	Signal struct {
		Type   string              `yaml:"type"`
		EMARSI signal.EMARSIParams `yaml:"emarsi"`
	} `yaml:"signal"`
}

func NewConfig() (*Config, error) {
	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	file, err := os.Open("configs/" + configFileName)
	if err != nil {
		return nil, errors.Wrap(err, "open config file")
	}
	defer func() {
		_ = file.Close()
	}()

	config := Config{}
	config.Service.AdminPort = intFromEnv("ADMIN_PORT", 8080)
	config.Exchange.MakerFee = floatFromEnv("MAKER_FEE", 0.0002)
	config.Exchange.TakerFee = floatFromEnv("TAKER_FEE", 0.0005)
	config.Bot = bot.Config{
		TickInterval:           durationFromEnv("TICK_INTERVAL", "1s"),
		RefreshTimeout:         durationFromEnv("REFRESH_TIMEOUT", "120s"),
		IntraTickDelay:         durationFromEnv("INTRA_TICK_DELAY", "500ms"),
		Leverage:               intFromEnv("LEVERAGE", 50),
		MaxAccountRiskPerTrade: floatFromEnv("MAX_ACCOUNT_RISK_PER_TRADE", 0.01),
		CRV:                    floatFromEnv("CRV", 0.525),
		MinROE:                 floatFromEnv("MIN_ROE", 0.01),
		MinROETriggerDistance:  floatFromEnv("MIN_ROE_TRIGGER_DISTANCE", 0.75),
		NotTrading:             boolFromEnv("NOT_TRADING", false),
	}
	config.Model.Type = getenvDefault("MODEL_TYPE", "dca")
	config.Model.DCA = ordermodel.DCAParams{
		NumTrades:      intFromEnv("DCA_NUM_TRADES", 4),
		PriceDev:       floatFromEnv("DCA_PRICE_DEV", 0.005),
		SaveScale:      floatFromEnv("DCA_SAVE_SCALE", 2.0),
		BaseToSaveMult: floatFromEnv("DCA_BASE_TO_SAVE_MULT", 1.0),
	}
	config.Signal.Type = getenvDefault("SIGNAL_TYPE", "emarsi")
	config.Signal.EMARSI = signal.EMARSIParams{
		EMAShort:  intFromEnv("EMA_SHORT", 9),
		EMALong:   intFromEnv("EMA_LONG", 21),
		RSIPeriod: intFromEnv("RSI_PERIOD", 14),
		Oversold:  floatFromEnv("RSI_OVERSOLD", 30),
		Overbuy:   floatFromEnv("RSI_OVERBOUGHT", 70),
		Timeframe: getenvDefault("TIMEFRAME", "1m"),
	}

	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, errors.Wrap(err, "decode config file")
	}

	if v := os.Getenv(tokenTelegramENV); v != "" {
		config.Telegram.Token = v
	}
	if v := os.Getenv(chatTelegramENV); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Telegram.ChatID = id
		}
	}
	if v := os.Getenv(databaseDSN); v != "" {
		config.DB = v
	}
	if v := os.Getenv(okxAPIKeyENV); v != "" {
		config.Exchange.APIKey = v
	}
	if v := os.Getenv(okxAPISecretENV); v != "" {
		config.Exchange.APISecret = v
	}
	if v := os.Getenv(okxPassphraseENV); v != "" {
		config.Exchange.Passphrase = v
	}

	if len(config.Symbols) == 0 {
		return nil, errors.New("config: at least one symbol is required")
	}

	return &config, nil
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
