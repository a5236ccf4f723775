package whoisproxy

import (
	"os"

	syslog "github.com/RackSec/srslog"
	"github.com/sirupsen/logrus"
)

// Log is the package-level logger used throughout whoisproxy. The cmd/
// binaries configure its level at start-up; library code only ever logs
// through this var.
var Log = logrus.New()

func init() {
	Log.SetLevel(logrus.InfoLevel)
	if lvl := os.Getenv("WHOISPROXY_LOG_LEVEL"); lvl != "" {
		if parsed, err := logrus.ParseLevel(lvl); err == nil {
			Log.SetLevel(parsed)
		}
	}
	if addr := os.Getenv("WHOISPROXY_SYSLOG_ADDRESS"); addr != "" {
		hook, err := newSyslogHook(addr)
		if err != nil {
			Log.WithError(err).Warn("failed to initialize syslog, continuing with local logging only")
			return
		}
		Log.AddHook(hook)
	}
}

// syslogHook forwards log entries to a remote syslog collector via
// github.com/RackSec/srslog.
type syslogHook struct {
	writer *syslog.Writer
}

func newSyslogHook(addr string) (*syslogHook, error) {
	writer, err := syslog.Dial("udp", addr, syslog.LOG_INFO, "whoisproxy")
	if err != nil {
		return nil, err
	}
	return &syslogHook{writer: writer}, nil
}

func (h *syslogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *syslogHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	_, err = h.writer.Write([]byte(line))
	return err
}
