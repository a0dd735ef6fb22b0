package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"
)

func watcherConfigJSON(baseSpeed int) string {
	return fmt.Sprintf(`{"hardware": %s, "navigation": {"base_speed_pwm": %d}}`,
		validHardwareJSON, baseSpeed)
}

func TestWatcherDeliversFreshConfig(t *testing.T) {
	logger := golog.NewTestLogger(t)
	path := writeConfigFile(t, watcherConfigJSON(120))

	w, err := NewWatcher(context.Background(), path, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, w.Close(), test.ShouldBeNil)
	}()

	test.That(t, os.WriteFile(path, []byte(watcherConfigJSON(140)), 0o644), test.ShouldBeNil)

	select {
	case cfg := <-w.Config():
		test.That(t, cfg.Navigation.BaseSpeedPWM, test.ShouldEqual, 140)
		test.That(t, cfg.ConfigFilePath, test.ShouldEqual, path)
	case <-time.After(10 * time.Second):
		t.Fatal("no config delivered after edit")
	}
}

func TestWatcherSurvivesAtomicReplace(t *testing.T) {
	logger := golog.NewTestLogger(t)
	path := writeConfigFile(t, watcherConfigJSON(120))

	w, err := NewWatcher(context.Background(), path, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, w.Close(), test.ShouldBeNil)
	}()

	// editors and scp save to a temp name and rename over the original
	tmp := filepath.Join(filepath.Dir(path), "rover.json.tmp")
	test.That(t, os.WriteFile(tmp, []byte(watcherConfigJSON(160)), 0o644), test.ShouldBeNil)
	test.That(t, os.Rename(tmp, path), test.ShouldBeNil)

	select {
	case cfg := <-w.Config():
		test.That(t, cfg.Navigation.BaseSpeedPWM, test.ShouldEqual, 160)
	case <-time.After(10 * time.Second):
		t.Fatal("no config delivered after rename")
	}
}

func TestWatcherRejectsInvalidEdit(t *testing.T) {
	logger := golog.NewTestLogger(t)
	path := writeConfigFile(t, watcherConfigJSON(120))

	w, err := NewWatcher(context.Background(), path, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, w.Close(), test.ShouldBeNil)
	}()

	test.That(t, os.WriteFile(path, []byte(`{"navigation": {"base_speed_pwm": -1}}`), 0o644), test.ShouldBeNil)

	select {
	case cfg := <-w.Config():
		t.Fatalf("invalid config delivered: %+v", cfg)
	case <-time.After(2 * time.Second):
	}

	// a good edit after the bad one still comes through
	test.That(t, os.WriteFile(path, []byte(watcherConfigJSON(180)), 0o644), test.ShouldBeNil)

	select {
	case cfg := <-w.Config():
		test.That(t, cfg.Navigation.BaseSpeedPWM, test.ShouldEqual, 180)
	case <-time.After(10 * time.Second):
		t.Fatal("no config delivered after repair")
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	logger := golog.NewTestLogger(t)
	path := writeConfigFile(t, watcherConfigJSON(120))

	w, err := NewWatcher(context.Background(), path, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, w.Close(), test.ShouldBeNil)
	}()

	sibling := filepath.Join(filepath.Dir(path), "notes.txt")
	test.That(t, os.WriteFile(sibling, []byte("not a config"), 0o644), test.ShouldBeNil)

	select {
	case cfg := <-w.Config():
		t.Fatalf("sibling write triggered a reload: %+v", cfg)
	case <-time.After(2 * time.Second):
	}
}
