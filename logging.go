package harness

import "go.uber.org/zap"

func logger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	if getEnv().Debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.DisableStacktrace = true
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return l.Named("harness")
}
