// Package records holds the small set of runtime tunables a header-heap
// deployment needs to adjust without a rebuild: URI strictness, the two
// request/response header size caps, the URL hash method, and the cache
// generation salt. It is named after the source's RecordsConfig table of
// tunable "records" and follows the same load-then-watch shape.
package records

import (
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"hdrproxy/core"
	"hdrproxy/pkg/utils"
)

// URLHashMethod is the url_hash_method tunable. Only HashSHA256 is
// defined, and URLObj.Digest does not read this setting: it always hashes
// with SHA-256 and picks its fast or general path from the URL alone.
type URLHashMethod string

const (
	HashSHA256 URLHashMethod = "sha256"
)

// URIStrictnessMode is the three-valued strict_uri_parsing tunable from
// spec.md §6, encoded exactly as the spec names it: 0 = off, 1 = strict,
// 2 = mostly. This numbering does not match core.URLStrictness's own
// iota order (Off, Mostly, Strict) — strictnessFromRecordsMode in
// cmd/hdrctl is the one place that translates between the two.
type URIStrictnessMode int

const (
	URIStrictnessOff    URIStrictnessMode = 0
	URIStrictnessStrict URIStrictnessMode = 1
	URIStrictnessMostly URIStrictnessMode = 2
)

// Snapshot is one immutable view of the tunables, swapped in atomically on
// reload so readers never observe a half-updated config.
type Snapshot struct {
	StrictURIParsing      URIStrictnessMode `mapstructure:"strict_uri_parsing"`
	MaxRequestHeaderSize  int               `mapstructure:"max_request_header_size"`
	MaxResponseHeaderSize int               `mapstructure:"max_response_header_size"`
	URLHashMethod         URLHashMethod     `mapstructure:"url_hash_method"`
	// CacheGeneration is mixed into URLObj.Digest's cache-key digest;
	// core.NoCacheGeneration (-1) disables mixing (spec.md §6).
	CacheGeneration int64 `mapstructure:"cache_generation"`
}

func defaultSnapshot() Snapshot {
	return Snapshot{
		StrictURIParsing:      URIStrictnessOff,
		MaxRequestHeaderSize:  64 * 1024,
		MaxResponseHeaderSize: 64 * 1024,
		URLHashMethod:         HashSHA256,
		CacheGeneration:       core.NoCacheGeneration,
	}
}

// Records is a hot-reloadable tunables collaborator: Load reads a config
// file (plus environment overrides) once, Watch keeps it current, and
// Current is safe to call from any goroutine at any rate.
type Records struct {
	v       *viper.Viper
	current atomic.Value // Snapshot
	log     logrus.FieldLogger
}

// New builds a Records collaborator with built-in defaults and no file
// loaded yet.
func New() *Records {
	r := &Records{
		v:   viper.New(),
		log: logrus.WithField("component", "records"),
	}
	r.v.SetEnvPrefix("HDRPROXY")
	r.v.AutomaticEnv()
	snap := defaultSnapshot()
	r.setDefaults(snap)
	r.current.Store(snap)
	return r
}

func (r *Records) setDefaults(snap Snapshot) {
	r.v.SetDefault("strict_uri_parsing", snap.StrictURIParsing)
	r.v.SetDefault("max_request_header_size", snap.MaxRequestHeaderSize)
	r.v.SetDefault("max_response_header_size", snap.MaxResponseHeaderSize)
	r.v.SetDefault("url_hash_method", string(snap.URLHashMethod))
	r.v.SetDefault("cache_generation", snap.CacheGeneration)
}

// Load reads envPath (a .env file, ignored silently if absent, matching
// the teacher's optional-dotenv pattern) and configPath (a YAML tunables
// file) and decodes them into the live snapshot.
func (r *Records) Load(envPath, configPath string) error {
	if envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return utils.Wrap(err, "load env file")
			}
		}
	}
	if configPath != "" {
		r.v.SetConfigFile(configPath)
		if err := r.v.ReadInConfig(); err != nil {
			return utils.Wrap(err, "read records config")
		}
	}
	return r.reload()
}

func (r *Records) reload() error {
	var snap Snapshot
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &snap,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return utils.Wrap(err, "build records decoder")
	}
	if err := dec.Decode(r.v.AllSettings()); err != nil {
		return utils.Wrap(err, "decode records")
	}
	r.current.Store(snap)
	r.log.WithField("cache_generation", snap.CacheGeneration).Info("records reloaded")
	return nil
}

// Current returns the live snapshot. Cheap enough to call per-request.
func (r *Records) Current() Snapshot {
	return r.current.Load().(Snapshot)
}

// Watch starts an fsnotify watch on the loaded config file and reloads the
// snapshot whenever it changes, until the returned stop func is called.
// It returns the first error encountered standing the watch up, if any.
func (r *Records) Watch() (stop func(), err error) {
	path := r.v.ConfigFileUsed()
	if path == "" {
		return func() {}, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, utils.Wrap(err, "start records watcher")
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return nil, utils.Wrap(err, "watch records file")
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.v.ReadInConfig(); err != nil {
					r.log.WithError(err).Warn("records file changed but failed to reload")
					continue
				}
				if err := r.reload(); err != nil {
					r.log.WithError(err).Warn("records decode failed after reload")
				}
			case werr, ok := <-w.Errors:
				if !ok {
					return
				}
				r.log.WithError(werr).Warn("records watcher error")
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = w.Close()
	}, nil
}
