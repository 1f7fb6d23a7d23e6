// Command vigil-enroll adds a person's face encoding to the encoding store
// used by the "vector" recognizer. It embeds one or more photos through the
// same embedder service the recognizer uses, then stores the encodings under
// the given name.
//
// Usage:
//
//	vigil-enroll -config config.yaml -name "Alice" photo1.jpg [photo2.jpg ...]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/halcyonix/vigil/internal/config"
	"github.com/halcyonix/vigil/internal/encstore"
	"github.com/halcyonix/vigil/internal/identify/vector"
)

// embedTimeout bounds the whole enrollment run, not a single request.
const embedTimeout = 2 * time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	name := flag.String("name", "", "name of the person to enroll")
	flag.Parse()

	_ = godotenv.Load()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "vigil-enroll: -name is required")
		return 2
	}
	photos := flag.Args()
	if len(photos) == 0 {
		fmt.Fprintln(os.Stderr, "vigil-enroll: at least one photo is required")
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vigil-enroll: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	store, err := openStore(ctx, cfg.Encodings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vigil-enroll: open encoding store: %v\n", err)
		return 1
	}
	defer store.Close()

	// The embedder is reached through the vector recognizer so enrollment
	// and recognition cannot drift apart on wire format.
	rec, err := vector.New(cfg.Recognition.BaseURL, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vigil-enroll: %v\n", err)
		return 1
	}
	defer rec.Close()

	enrolled := 0
	for _, photo := range photos {
		n, err := enrollPhoto(ctx, rec, store, *name, photo)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vigil-enroll: %s: %v\n", photo, err)
			return 1
		}
		if n == 0 {
			fmt.Fprintf(os.Stderr, "vigil-enroll: %s: no face found, skipping\n", photo)
			continue
		}
		enrolled += n
		fmt.Printf("enrolled %d encoding(s) from %s\n", n, photo)
	}

	if enrolled == 0 {
		fmt.Fprintln(os.Stderr, "vigil-enroll: no encodings enrolled")
		return 1
	}

	total, err := store.Count(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vigil-enroll: count: %v\n", err)
		return 1
	}
	fmt.Printf("done: %s now enrolled, store holds %d encoding(s)\n", *name, total)
	return 0
}

// enrollPhoto embeds one photo and stores every face encoding found in it.
func enrollPhoto(ctx context.Context, rec *vector.Recognizer, store encstore.Store, name, path string) (int, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	faces, err := rec.Embed(ctx, image)
	if err != nil {
		return 0, fmt.Errorf("embed: %w", err)
	}

	for _, face := range faces {
		if err := store.Add(ctx, name, face.Embedding); err != nil {
			return 0, fmt.Errorf("store encoding: %w", err)
		}
	}
	return len(faces), nil
}

// openStore opens the configured encoding store for enrollment. Unlike the
// recognition path, an empty (or missing) store is fine here.
func openStore(ctx context.Context, cfg config.EncodingsConfig) (encstore.Store, error) {
	switch cfg.Backend {
	case config.EncodingsFile:
		return encstore.OpenFile(cfg.Path, encstore.AllowEmpty())
	case config.EncodingsPostgres:
		return encstore.OpenPostgres(ctx, cfg.PostgresDSN, cfg.Dimensions, encstore.AllowEmpty())
	default:
		return nil, fmt.Errorf("unknown encodings backend %q", cfg.Backend)
	}
}
