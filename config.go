package seriesplot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"github.com/sirupsen/logrus"
)

// Config holds the settings that can come from the environment. Command line
// flags override them.
type Config struct {
	Host         string        `env:"SERIESPLOT_HOST,default=127.0.0.1"`
	Port         uint16        `env:"SERIESPLOT_PORT,default=5274"`
	Library      string        `env:"SERIESPLOT_LIBRARY,default=chartjs"`
	History      int           `env:"SERIESPLOT_HISTORY,default=16"`
	WriteTimeout time.Duration `env:"SERIESPLOT_WRITE_TIMEOUT,default=10s"`
	OpenBrowser  bool          `env:"SERIESPLOT_OPEN_BROWSER,default=false"`
	LogLevel     string        `env:"SERIESPLOT_LOG_LEVEL,default=info"`
}

// LoadConfig reads the given dotenv files, if they exist, into the process
// environment and then fills a Config from it. Variables already set in the
// environment win over the files.
func LoadConfig(ctx context.Context, envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		err := godotenv.Load(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process config: %w", err)
	}

	if _, ok := LibraryByName(cfg.Library); !ok {
		return Config{}, fmt.Errorf("unknown chart library %q", cfg.Library)
	}

	return cfg, nil
}

// ConfigureLogging sets the global logrus level.
func ConfigureLogging(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	return nil
}
