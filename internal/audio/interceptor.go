package audio

import (
	"sync"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/callstream/internal/metrics"
	"github.com/RenatoCabral2022/callstream/internal/streaming"
)

// Interceptor routes a call's audio into a Tap while interception is
// engaged. Engage and Release are idempotent.
type Interceptor struct {
	logger     *zap.Logger
	bufferSecs int

	mu   sync.RWMutex
	taps map[string]*Tap
}

func NewInterceptor(logger *zap.Logger, bufferSecs int) *Interceptor {
	return &Interceptor{
		logger:     logger,
		bufferSecs: bufferSecs,
		taps:       make(map[string]*Tap),
	}
}

func (i *Interceptor) Engage(call streaming.Call) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.taps[call.ID()]; ok {
		return
	}
	i.taps[call.ID()] = newTap(call.ID(), i.bufferSecs)
	metrics.TapsEngaged.Inc()
	i.logger.Info("audio interception engaged", zap.String("call", call.ID()))
}

func (i *Interceptor) Release(call streaming.Call) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.taps[call.ID()]; !ok {
		return
	}
	delete(i.taps, call.ID())
	metrics.TapsEngaged.Dec()
	i.logger.Info("audio interception released", zap.String("call", call.ID()))
}

// Tap returns the tap of a call with interception engaged.
func (i *Interceptor) Tap(callID string) (*Tap, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	t, ok := i.taps[callID]
	return t, ok
}

// Feed writes call audio into its tap. Audio for calls without
// interception is dropped; the return value reports whether it was kept.
func (i *Interceptor) Feed(callID string, pcm []byte) bool {
	t, ok := i.Tap(callID)
	if !ok {
		return false
	}
	t.Write(pcm)
	return true
}

var _ streaming.AudioInterceptor = (*Interceptor)(nil)
