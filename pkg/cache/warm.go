package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Warm populates store from every *.alt file under dir, each holding one
// MarshalAlternate-encoded image named by its ObjectKey's base32 string.
// Reads run with bounded concurrency (concurrency goroutines at a time)
// via sourcegraph/conc rather than an unbounded fan-out, since a cold
// start can face thousands of on-disk alternates at once.
func Warm(ctx context.Context, store *Store, dir string, concurrency int, log *zap.Logger) (loaded int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	p := pool.New().WithContext(ctx).WithMaxGoroutines(concurrency)
	var loadedCount atomic.Int32

	for _, ent := range entries {
		ent := ent
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".alt" {
			continue
		}
		p.Go(func(ctx context.Context) error {
			path := filepath.Join(dir, ent.Name())
			raw, err := os.ReadFile(path)
			if err != nil {
				log.Warn("warm: read alternate file failed", zap.String("path", path), zap.Error(err))
				return nil // one bad file must not abort the whole warm-up
			}
			alt, err := UnmarshalAlternate(raw)
			if err != nil {
				log.Warn("warm: decode alternate failed", zap.String("path", path), zap.Error(err))
				return nil
			}
			key, err := ParseObjectKey(trimExt(ent.Name()))
			if err != nil {
				log.Warn("warm: bad object key filename", zap.String("path", path), zap.Error(err))
				return nil
			}
			store.Put(key, MarshalAlternate(alt))
			loadedCount.Add(1)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return int(loadedCount.Load()), err
	}
	return int(loadedCount.Load()), nil
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
