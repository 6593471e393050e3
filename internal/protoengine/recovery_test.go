package protoengine

import (
	"context"
	"testing"
)

// TestRecoverAlwaysResetsToNormalMode exercises S4: regardless of the mode
// the engine believed it was in, best-effort recovery always leaves it
// believing Normal, since every step is best-effort and recovery does not
// wait for device confirmation of any individual step.
func TestRecoverAlwaysResetsToNormalMode(t *testing.T) {
	cfg := DefaultConfig()
	eng, device := newEnginePipe(cfg)
	defer device.Close()

	eng.mode = ModeRaw
	eng.atPrompt = false

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 256)
		for {
			if _, err := device.Read(buf); err != nil {
				return
			}
		}
	}()

	eng.recover(context.Background())

	if eng.mode != ModeNormal {
		t.Fatalf("mode after recover = %v, want ModeNormal", eng.mode)
	}
	_ = device.Close()
	<-done
}
