//go:build malgo

package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/gen2brain/malgo"
)

// MiniaudioProvider opens the default capture device and the loopback of
// the default playback device.
type MiniaudioProvider struct {
	once    sync.Once
	ctx     *malgo.AllocatedContext
	initErr error
}

func NewMiniaudioProvider() *MiniaudioProvider {
	return &MiniaudioProvider{}
}

func (p *MiniaudioProvider) context() (*malgo.AllocatedContext, error) {
	p.once.Do(func() {
		p.ctx, p.initErr = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	})
	if p.initErr != nil {
		return nil, fmt.Errorf("%w: init miniaudio: %v", audio.ErrDeviceUnavailable, p.initErr)
	}
	return p.ctx, nil
}

func (p *MiniaudioProvider) OpenMicrophone(sampleRate int) (audio.Device, error) {
	return p.open("microphone", malgo.Capture, sampleRate)
}

func (p *MiniaudioProvider) OpenLoopback(sampleRate int) (audio.Device, error) {
	return p.open("loopback", malgo.Loopback, sampleRate)
}

func (p *MiniaudioProvider) open(name string, kind malgo.DeviceType, sampleRate int) (audio.Device, error) {
	ctx, err := p.context()
	if err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(kind)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(sampleRate)

	buf := newSampleBuffer(1)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			buf.push(decodeF32(input))
		},
	}
	dev, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("%w: init %s: %v", audio.ErrDeviceUnavailable, name, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("%w: start %s: %v", audio.ErrDeviceUnavailable, name, err)
	}
	return &miniaudioDevice{name: name, dev: dev, buf: buf}, nil
}

// Close releases the miniaudio context. Devices must be closed first.
func (p *MiniaudioProvider) Close() error {
	if p.ctx == nil {
		return nil
	}
	if err := p.ctx.Uninit(); err != nil {
		return err
	}
	p.ctx.Free()
	return nil
}

type miniaudioDevice struct {
	name string
	dev  *malgo.Device
	buf  *sampleBuffer
	once sync.Once
}

func (d *miniaudioDevice) Name() string { return d.name }

func (d *miniaudioDevice) Record(numFrames int) (audio.Frame, error) {
	return d.buf.read(numFrames)
}

func (d *miniaudioDevice) Close() error {
	d.once.Do(func() {
		d.buf.close()
		d.dev.Uninit()
	})
	return nil
}

func decodeF32(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}
