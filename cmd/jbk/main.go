// Command jbk is a thin driver over the engine: check an archive's
// integrity, inspect or rewrite where a pack is located, and walk its
// directory structure.
package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jubako/jubako-go/internal/logging"
	"github.com/jubako/jubako-go/manifestpack"
	"github.com/jubako/jubako-go/pack"
	"github.com/jubako/jubako-go/reader"
	"github.com/jubako/jubako-go/region"
)

func main() {
	app := kingpin.New("jbk", "Inspect and repair Jubako archives")
	verbose := app.Flag("verbose", "Enable debug logging").Bool()

	checkCmd := app.Command("check", "Verify every pack's check tail")
	checkFile := checkCmd.Arg("file", "archive path").Required().String()

	locateCmd := app.Command("locate", "Print or rewrite a pack's locator")
	locateFile := locateCmd.Arg("file", "archive path").Required().String()
	locateUUID := locateCmd.Arg("uuid", "pack UUID").Required().String()
	locateNewPath := locateCmd.Arg("new_path", "new locator to write, relative to the manifest's directory").String()

	exploreCmd := app.Command("explore", "Traverse an archive's internal structures")
	exploreFile := exploreCmd.Arg("file", "archive path").Required().String()
	exploreKeyPath := exploreCmd.Arg("key_path", "slash-separated path: <pack-uuid>/entries/<index>[/<field>]").Required().String()

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := newCLILogger(*verbose)
	ctx := logging.WithLogger(context.Background(), logger)

	var err error

	switch cmd {
	case checkCmd.FullCommand():
		err = runCheck(ctx, *checkFile)
	case locateCmd.FullCommand():
		err = runLocate(ctx, *locateFile, *locateUUID, *locateNewPath)
	case exploreCmd.FullCommand():
		err = runExplore(ctx, *exploreFile, *exploreKeyPath)
	}

	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func newCLILogger(verbose bool) logging.Logger {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	base, err := cfg.Build()
	if err != nil {
		base = zap.NewNop()
	}

	return logging.NewLogger(base, "jbk")
}

// runCheck opens path as a manifest or container and verifies the check
// tail of every content and directory pack it references, logging one
// line per failing pack and returning an error if any of them failed (the
// CLI's surfaced form of invariant 3 in the engine).
func runCheck(ctx context.Context, path string) error {
	logger := logging.GetLogger(ctx)

	a, err := reader.Open(path, reader.Options{Logger: logger})
	if err != nil {
		return errors.Wrap(err, "opening archive")
	}
	defer a.Close()

	failures := 0

	for _, pi := range a.Manifest().Packs {
		switch pi.Kind {
		case pack.KindContent:
			if _, err := a.ContentPack(pi.UUID); err != nil {
				logger.Errorf("pack %v: %v", pi.UUID, err)
				failures++
			}
		case pack.KindDirectory:
			if _, err := a.DirectoryPack(pi.UUID); err != nil {
				logger.Errorf("pack %v: %v", pi.UUID, err)
				failures++
			}
		}
	}

	if failures > 0 {
		return errors.Errorf("%v pack(s) failed integrity checks", failures)
	}

	logger.Infof("all packs verified")

	return nil
}

// runLocate prints a pack's current locator, or rewrites it in place when
// new_path is given.
func runLocate(ctx context.Context, path, idStr, newPath string) error {
	id, err := uuid.Parse(idStr)
	if err != nil {
		return errors.Wrap(err, "invalid uuid")
	}

	image, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	m, err := manifestpack.Open(region.FromBuffer(image))
	if err != nil {
		return err
	}

	idx := -1

	for i, pi := range m.Packs {
		if pi.UUID == id {
			idx = i
			break
		}
	}

	if idx < 0 {
		return errors.Errorf("no pack %v in manifest", id)
	}

	if newPath == "" {
		fmt.Println(m.Packs[idx].PackLocation)
		return nil
	}

	if err := manifestpack.UpdateLocator(image, idx, newPath); err != nil {
		return err
	}

	// Rewrite through a temp-file-plus-rename so a crash or concurrent
	// reader never observes a partially written manifest.
	return atomic.WriteFile(path, bytes.NewReader(image))
}

// runExplore walks <pack-uuid>/entries/<index>[/<field>] against a
// directory pack and prints the raw record. When a field is named, its
// name is printed next to the raw record; the field's value is not
// decoded.
func runExplore(ctx context.Context, path, keyPath string) error {
	logger := logging.GetLogger(ctx)

	a, err := reader.Open(path, reader.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer a.Close()

	segs, err := splitKeyPath(keyPath)
	if err != nil {
		return err
	}

	id, err := uuid.Parse(segs[0])
	if err != nil {
		return errors.Wrap(err, "invalid pack uuid")
	}

	dp, err := a.DirectoryPack(id)
	if err != nil {
		return err
	}

	if len(segs) < 3 || segs[1] != "entries" {
		return errors.New("key path must be <uuid>/entries/<index>[/<field>]")
	}

	var idx int
	if _, err := fmt.Sscanf(segs[2], "%d", &idx); err != nil {
		return errors.Wrap(err, "invalid entry index")
	}

	entry, err := dp.Entries.Record(idx)
	if err != nil {
		return err
	}

	if len(segs) == 3 {
		fmt.Printf("% x\n", entry)
		return nil
	}

	fmt.Printf("field %q requested; raw record: % x\n", segs[3], entry)

	return nil
}

func splitKeyPath(keyPath string) ([]string, error) {
	var segs []string

	start := 0

	for i := 0; i <= len(keyPath); i++ {
		if i == len(keyPath) || keyPath[i] == '/' {
			segs = append(segs, keyPath[start:i])
			start = i + 1
		}
	}

	if len(segs) < 1 {
		return nil, errors.New("empty key path")
	}

	return segs, nil
}
