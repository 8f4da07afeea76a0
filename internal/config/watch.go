package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"os"
	"time"
)

// Watcher polls a file and reloads it when its content changes.
type Watcher[T any] struct {
	Path     string
	Interval time.Duration
	Load     func(path string) (T, error)
	OnUpdate func(T)
	// OnError receives read and parse failures; the previous config stays in effect.
	OnError func(error)

	lastSum []byte
}

// Run loads the file once synchronously, then keeps polling in a goroutine until ctx is done.
func (w *Watcher[T]) Run(ctx context.Context) error {
	if w.Interval <= 0 {
		w.Interval = 30 * time.Second
	}
	if _, err := w.reload(); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := w.reload(); err != nil && w.OnError != nil {
					w.OnError(err)
				}
			}
		}
	}()
	return nil
}

// reload calls OnUpdate when the content differs from the last successful load.
func (w *Watcher[T]) reload() (bool, error) {
	data, err := os.ReadFile(w.Path)
	if err != nil {
		return false, err
	}
	sum := sha256.Sum256(data)
	if w.lastSum != nil && bytes.Equal(sum[:], w.lastSum) {
		return false, nil
	}

	cfg, err := w.Load(w.Path)
	if err != nil {
		return false, err
	}
	w.lastSum = sum[:]
	if w.OnUpdate != nil {
		w.OnUpdate(cfg)
	}
	return true, nil
}

// WatchPresets reloads presets.yaml on change and calls onUpdate with the latest config.
func WatchPresets(ctx context.Context, path string, interval time.Duration, onUpdate func(*PresetsConfig), onError func(error)) error {
	if path == "" {
		path = "configs/presets.yaml"
	}
	w := &Watcher[*PresetsConfig]{
		Path:     path,
		Interval: interval,
		Load:     LoadPresetsConfig,
		OnUpdate: onUpdate,
		OnError:  onError,
	}
	return w.Run(ctx)
}
