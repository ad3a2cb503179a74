package launcher

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/log"
	"github.com/evalphobia/logrus_sentry"
	"github.com/sirupsen/logrus"
)

// setupLogging routes the root go-ethereum logger into a logrus logger
// formatted per cfg. Records above the verbosity are dropped before they
// reach logrus.
func setupLogging(cfg LogConfig, out io.Writer) (*logrus.Logger, error) {
	lg := logrus.New()
	lg.SetOutput(out)
	lg.SetLevel(logrus.TraceLevel)
	switch cfg.Format {
	case "json":
		lg.SetFormatter(&logrus.JSONFormatter{})
	default:
		lg.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   cfg.Color,
			DisableColors: !cfg.Color,
		})
	}

	if cfg.SentryDSN != "" {
		hook, err := logrus_sentry.NewSentryHook(cfg.SentryDSN, []logrus.Level{
			logrus.PanicLevel,
			logrus.FatalLevel,
			logrus.ErrorLevel,
		})
		if err != nil {
			return nil, fmt.Errorf("sentry hook: %w", err)
		}
		lg.AddHook(hook)
	}

	log.Root().SetHandler(log.LvlFilterHandler(log.Lvl(cfg.Verbosity), logrusHandler(lg)))
	return lg, nil
}

// logrusHandler forwards go-ethereum log records to lg, turning the
// key/value context into logrus fields.
func logrusHandler(lg *logrus.Logger) log.Handler {
	return log.FuncHandler(func(r *log.Record) error {
		fields := make(logrus.Fields, len(r.Ctx)/2)
		for i := 0; i+1 < len(r.Ctx); i += 2 {
			key, ok := r.Ctx[i].(string)
			if !ok {
				key = fmt.Sprint(r.Ctx[i])
			}
			fields[key] = r.Ctx[i+1]
		}
		lg.WithFields(fields).WithTime(r.Time).Log(logrusLevel(r.Lvl), r.Msg)
		return nil
	})
}

// logrusLevel maps go-ethereum levels onto logrus. Crit becomes Fatal, which
// Entry.Log records without exiting.
func logrusLevel(lvl log.Lvl) logrus.Level {
	switch lvl {
	case log.LvlCrit:
		return logrus.FatalLevel
	case log.LvlError:
		return logrus.ErrorLevel
	case log.LvlWarn:
		return logrus.WarnLevel
	case log.LvlInfo:
		return logrus.InfoLevel
	case log.LvlDebug:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}
