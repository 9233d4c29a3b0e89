package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/chazu/druk/image"
	"github.com/chazu/druk/store"
)

// handleStoreCommand processes the `druk store` subcommand.
// Usage:
//
//	druk store put NAME FILE          Save an image or CHNK file
//	druk store get NAME OUT           Write a stored image to OUT
//	druk store list                   List stored images
//	druk store rm NAME                Delete a stored image
//	druk store run NAME [args...]     Run a stored image
func (a *app) handleStoreCommand(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(a.stderr, "Usage: druk store [put|get|list|rm|run] ...")
		fmt.Fprintln(a.stderr, "  put NAME FILE          Save an image or CHNK file")
		fmt.Fprintln(a.stderr, "  get NAME OUT           Write a stored image to OUT")
		fmt.Fprintln(a.stderr, "  list                   List stored images")
		fmt.Fprintln(a.stderr, "  rm NAME                Delete a stored image")
		fmt.Fprintln(a.stderr, "  run NAME [args...]     Run a stored image")
		return exitUsage
	}

	switch args[0] {
	case "put":
		if len(args) != 3 {
			fmt.Fprintln(a.stderr, "Usage: druk store put NAME FILE")
			return exitUsage
		}
		return a.storePut(args[1], args[2])
	case "get":
		if len(args) != 3 {
			fmt.Fprintln(a.stderr, "Usage: druk store get NAME OUT")
			return exitUsage
		}
		return a.storeGet(args[1], args[2])
	case "list", "ls":
		return a.storeList()
	case "rm":
		if len(args) != 2 {
			fmt.Fprintln(a.stderr, "Usage: druk store rm NAME")
			return exitUsage
		}
		return a.storeRemove(args[1])
	case "run":
		if len(args) < 2 {
			fmt.Fprintln(a.stderr, "Usage: druk store run NAME [args...]")
			return exitUsage
		}
		return a.runStored(args[1], args[2:])
	default:
		fmt.Fprintf(a.stderr, "Unknown store subcommand: %s\n", args[0])
		return exitUsage
	}
}

// withStore opens the configured store for the duration of fn.
func (a *app) withStore(fn func(ctx context.Context, s *store.Store) int) int {
	s, err := store.Open(a.storePath)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitFailure
	}
	defer s.Close()
	return fn(context.Background(), s)
}

func (a *app) storePut(name, path string) int {
	img, err := image.ReadFile(path)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitDataErr
	}
	return a.withStore(func(ctx context.Context, s *store.Store) int {
		digest, err := s.Put(ctx, name, img)
		if err != nil {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
			return exitFailure
		}
		fmt.Fprintf(a.stdout, "%s %s\n", name, digest)
		return exitOK
	})
}

func (a *app) storeGet(name, out string) int {
	return a.withStore(func(ctx context.Context, s *store.Store) int {
		img, err := s.Get(ctx, name)
		if err != nil {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
			return notFoundCode(err)
		}
		if err := img.WriteFile(out); err != nil {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
			return exitFailure
		}
		return exitOK
	})
}

func (a *app) storeList() int {
	return a.withStore(func(ctx context.Context, s *store.Store) int {
		entries, err := s.List(ctx)
		if err != nil {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
			return exitFailure
		}
		tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSIZE\tDIGEST\tUPDATED")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.Name, e.Size, e.Digest[:12], e.Updated.Format("2006-01-02 15:04:05"))
		}
		tw.Flush()
		return exitOK
	})
}

func (a *app) storeRemove(name string) int {
	return a.withStore(func(ctx context.Context, s *store.Store) int {
		if err := s.Delete(ctx, name); err != nil {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
			return notFoundCode(err)
		}
		return exitOK
	})
}

func (a *app) runStored(name string, args []string) int {
	var img *image.Image
	code := a.withStore(func(ctx context.Context, s *store.Store) int {
		var err error
		img, err = s.Get(ctx, name)
		if err != nil {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
			return notFoundCode(err)
		}
		return exitOK
	})
	if code != exitOK {
		return code
	}
	return a.runImage(img, name, args)
}

func notFoundCode(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return exitDataErr
	}
	return exitFailure
}
