package config

const (
	defaultEmacsBinary          = "emacs"
	defaultEmacsClientBinary    = "emacsclient"
	defaultDaemonName           = "hexo-renderer-org"
	defaultCacheDir             = "~/.cache/orgrender"
	defaultEntryScript          = "emacs/hexo-renderer-org.el"
	defaultFallbackEntryScript  = "node_modules/hexo-renderer-org/emacs/hexo-renderer-org.el"
	defaultRuntimeDir           = "~/.local/share/orgrender/run"
	defaultLogDir               = "~/.local/share/orgrender/logs"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultMaxRetries           = 100
	defaultMinTimeoutMillis     = 100
	defaultMaxTimeoutMillis     = 1000
	defaultBackoffFactor        = 2.0
	defaultStopRetryMillis      = 1000
	defaultReadyPollMillis      = 200
	defaultWatchIntervalSeconds = 5
	defaultHistoryFile          = "history.db"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Engine: Engine{
			Emacs:               defaultEmacsBinary,
			EmacsClient:         defaultEmacsClientBinary,
			DaemonName:          defaultDaemonName,
			CacheDir:            defaultCacheDir,
			ClientTTY:           true,
			EntryScript:         defaultEntryScript,
			FallbackEntryScript: defaultFallbackEntryScript,
		},
		Paths: Paths{
			RuntimeDir: defaultRuntimeDir,
			LogDir:     defaultLogDir,
		},
		Retry: Retry{
			MaxRetries:       defaultMaxRetries,
			MinTimeoutMillis: defaultMinTimeoutMillis,
			MaxTimeoutMillis: defaultMaxTimeoutMillis,
			Factor:           defaultBackoffFactor,
			Randomize:        true,
		},
		Supervisor: Supervisor{
			StopRetryIntervalMillis: defaultStopRetryMillis,
			ReadyPollIntervalMillis: defaultReadyPollMillis,
			WatchIntervalSeconds:    defaultWatchIntervalSeconds,
		},
		History: History{
			Enabled: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
