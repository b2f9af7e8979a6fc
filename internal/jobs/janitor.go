package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-session-broker/internal/audit"
	"github.com/openclaw/wa-session-broker/internal/config"
	"github.com/openclaw/wa-session-broker/internal/model"
)

// Sweeper is the session surface the janitor works through.
type Sweeper interface {
	Snapshot() []model.Session
	Expire(ctx context.Context, id string) (bool, error)
	Evict(ctx context.Context, id string) (bool, error)
}

type MediaCleaner interface {
	DeleteFailedMediaBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type JanitorConfig struct {
	Interval             time.Duration
	QRTTL                time.Duration
	Retention            time.Duration
	FailedMediaRetention time.Duration
}

type Summary struct {
	ExpiredQR       int   `json:"expiredQr"`
	EvictedSessions int   `json:"evictedSessions"`
	FailedMedia     int64 `json:"failedMedia"`
}

type Janitor struct {
	sweeper Sweeper
	media   MediaCleaner
	cfg     JanitorConfig
	now     func() time.Time

	runMu    sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewJanitor creates the periodic cleanup job. media may be nil.
func NewJanitor(sweeper Sweeper, media MediaCleaner, cfg JanitorConfig) *Janitor {
	return &Janitor{
		sweeper: sweeper,
		media:   media,
		cfg:     cfg,
		now:     time.Now,
		done:    make(chan struct{}),
	}
}

func (j *Janitor) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().Dur("interval", j.cfg.Interval).Msg("janitor started")
}

func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.done) })
	j.wg.Wait()
	log.Info().Msg("janitor stopped")
}

func (j *Janitor) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), config.CleanupRunTimeout)
			j.RunOnce(ctx)
			cancel()
		}
	}
}

// RunOnce performs one sweep. Concurrent calls are serialized.
func (j *Janitor) RunOnce(ctx context.Context) Summary {
	j.runMu.Lock()
	defer j.runMu.Unlock()

	var sum Summary
	now := j.now()

	for _, s := range j.sweeper.Snapshot() {
		switch {
		case s.State == model.SessionStateAwaitingScan && s.QRAge(now) > j.cfg.QRTTL:
			expired, err := j.sweeper.Expire(ctx, s.ID)
			if err != nil {
				log.Error().Err(err).Str("sessionId", s.ID).Msg("failed to expire session")
				continue
			}
			if expired {
				sum.ExpiredQR++
			}

		case s.State.IsTerminal() && s.Age(now) > j.cfg.Retention:
			evicted, err := j.sweeper.Evict(ctx, s.ID)
			if err != nil {
				log.Error().Err(err).Str("sessionId", s.ID).Msg("failed to evict session")
			}
			if evicted {
				sum.EvictedSessions++
				audit.Log(ctx, audit.Event{
					Type:      audit.EventSessionEvict,
					OwnerID:   s.OwnerID,
					SessionID: s.ID,
					Details:   map[string]any{"state": string(s.State)},
				})
			}
		}
	}

	if j.media != nil {
		count, err := j.media.DeleteFailedMediaBefore(ctx, now.Add(-j.cfg.FailedMediaRetention))
		if err != nil {
			log.Error().Err(err).Msg("failed to cleanup failed media")
		} else {
			sum.FailedMedia = count
		}
	}

	if sum.ExpiredQR > 0 || sum.EvictedSessions > 0 || sum.FailedMedia > 0 {
		log.Info().
			Int("expiredQr", sum.ExpiredQR).
			Int("evictedSessions", sum.EvictedSessions).
			Int64("failedMedia", sum.FailedMedia).
			Msg("janitor sweep")
	}
	return sum
}
