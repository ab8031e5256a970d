// Command rookery manages a single-account content-addressed record
// repository in a local bbolt file: mutate records, inspect the log,
// and exchange archives and proofs with other instances.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/spf13/cobra"

	"github.com/rookery-social/rookery/blockstore"
	"github.com/rookery-social/rookery/car"
	"github.com/rookery-social/rookery/proof"
	"github.com/rookery-social/rookery/repo"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rookery:", err)
		os.Exit(1)
	}
}

type app struct {
	dbPath  string
	keyPath string
	did     string
	verbose bool
}

func rootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "rookery",
		Short:         "content-addressed record repository",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			level := slog.LevelWarn
			if a.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	cmd.PersistentFlags().StringVar(&a.dbPath, "db", "rookery.db", "path to the repository database")
	cmd.PersistentFlags().StringVar(&a.keyPath, "key", "rookery.key", "path to the signing key")
	cmd.PersistentFlags().StringVar(&a.did, "did", "", "account DID (defaults to the one recorded at init)")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		a.initCmd(),
		a.putCmd(),
		a.getCmd(),
		a.rmCmd(),
		a.lsCmd(),
		a.exportCmd(),
		a.importCmd(),
		a.proveCmd(),
		a.verifyCmd(),
	)
	return cmd
}

func (a *app) openStorage() (*blockstore.Bolt, error) {
	return blockstore.OpenBolt(a.dbPath)
}

func (a *app) loadKey() (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(a.keyPath)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key %s is not a %d-byte hex seed", a.keyPath, ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func (a *app) resolveDID() (string, error) {
	if a.did != "" {
		return a.did, nil
	}
	return "", errors.New("--did is required")
}

func (a *app) openRepo() (*repo.Repo, *blockstore.Bolt, error) {
	storage, err := a.openStorage()
	if err != nil {
		return nil, nil, err
	}
	priv, err := a.loadKey()
	if err != nil {
		storage.Close()
		return nil, nil, err
	}
	did, err := a.resolveDID()
	if err != nil {
		storage.Close()
		return nil, nil, err
	}
	r, err := repo.Open(repo.Config{
		DID:     did,
		Storage: storage,
		Sign:    repo.Ed25519Signer(priv),
	})
	if err != nil {
		storage.Close()
		return nil, nil, err
	}
	return r, storage, nil
}

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "create the database and a signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(a.keyPath); err == nil {
				return fmt.Errorf("key file %s already exists", a.keyPath)
			}
			_, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return err
			}
			seed := hex.EncodeToString(priv.Seed())
			if err := os.WriteFile(a.keyPath, []byte(seed+"\n"), 0o600); err != nil {
				return fmt.Errorf("write signing key: %w", err)
			}
			storage, err := a.openStorage()
			if err != nil {
				return err
			}
			defer storage.Close()
			pub := priv.Public().(ed25519.PublicKey)
			fmt.Fprintf(cmd.OutOrStdout(), "initialized %s\npublic key: %s\n",
				a.dbPath, hex.EncodeToString(pub))
			return nil
		},
	}
}

func (a *app) putCmd() *cobra.Command {
	var fromFile string
	cmd := &cobra.Command{
		Use:   "put <key> [value]",
		Short: "create or update a record",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := readValue(args, fromFile, cmd.InOrStdin())
			if err != nil {
				return err
			}
			r, storage, err := a.openRepo()
			if err != nil {
				return err
			}
			defer storage.Close()
			ctx := cmd.Context()

			op := repo.WriteCreate
			head, err := r.Head(ctx)
			if err != nil {
				return err
			}
			if head.Defined() {
				view, err := repo.OpenReadable(ctx, storage, head)
				if err != nil {
					return err
				}
				if _, _, exists, err := view.GetRecord(ctx, args[0]); err != nil {
					return err
				} else if exists {
					op = repo.WriteUpdate
				}
			}
			ev, err := r.ApplyWrites(ctx, []repo.Write{
				{Op: op, Key: args[0], Record: value},
			}, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\ncommit %s rev %s\n",
				ev.Ops[0].Action, args[0], ev.Commit, ev.Rev)
			return nil
		},
	}
	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "read the record value from a file instead of the arguments")
	return cmd
}

func readValue(args []string, fromFile string, stdin io.Reader) ([]byte, error) {
	switch {
	case fromFile != "":
		return os.ReadFile(fromFile)
	case len(args) == 2:
		return []byte(args[1]), nil
	default:
		return io.ReadAll(stdin)
	}
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "print a record's value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := a.openStorage()
			if err != nil {
				return err
			}
			defer storage.Close()
			ctx := cmd.Context()
			view, err := a.openHead(ctx, storage)
			if err != nil {
				return err
			}
			c, data, ok, err := view.GetRecord(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no record at %q", args[0])
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "cid %s\n", c)
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func (a *app) openHead(ctx context.Context, storage *blockstore.Bolt) (*repo.ReadableRepo, error) {
	did, err := a.resolveDID()
	if err != nil {
		return nil, err
	}
	head, err := storage.GetHead(ctx, did)
	if err != nil {
		return nil, err
	}
	if !head.Defined() {
		return nil, errors.New("repository has no commits")
	}
	return repo.OpenReadable(ctx, storage, head)
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <key>",
		Short: "delete a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, storage, err := a.openRepo()
			if err != nil {
				return err
			}
			defer storage.Close()
			ev, err := r.ApplyWrites(cmd.Context(), []repo.Write{
				{Op: repo.WriteDelete, Key: args[0]},
			}, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\ncommit %s rev %s\n", args[0], ev.Commit, ev.Rev)
			return nil
		},
	}
}

func (a *app) lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "list record keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			storage, err := a.openStorage()
			if err != nil {
				return err
			}
			defer storage.Close()
			ctx := cmd.Context()
			view, err := a.openHead(ctx, storage)
			if err != nil {
				return err
			}
			return view.ForEachRecord(ctx, func(key string, val cid.Cid) error {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", key, val)
				return nil
			})
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <archive>",
		Short: "write a full snapshot archive of the current head",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := a.openStorage()
			if err != nil {
				return err
			}
			defer storage.Close()
			ctx := cmd.Context()
			did, err := a.resolveDID()
			if err != nil {
				return err
			}
			head, err := storage.GetHead(ctx, did)
			if err != nil {
				return err
			}
			if !head.Defined() {
				return errors.New("repository has no commits")
			}
			bundle, err := proof.BuildSnapshot(ctx, storage, head)
			if err != nil {
				return err
			}
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := bundle.Write(f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d blocks, head %s\n", bundle.Len(), head)
			return nil
		},
	}
}

func (a *app) importCmd() *cobra.Command {
	var rootStr string
	c := &cobra.Command{
		Use:   "import <archive>",
		Short: "verify a snapshot archive and adopt it as the head",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			bundle, err := car.Read(f)
			f.Close()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			trusted, err := a.trustedRoot(rootStr, bundle)
			if err != nil {
				return err
			}
			view, err := proof.VerifySnapshot(ctx, trusted, bundle)
			if err != nil {
				return fmt.Errorf("snapshot rejected: %w", err)
			}
			storage, err := a.openStorage()
			if err != nil {
				return err
			}
			defer storage.Close()

			err = bundle.Each(func(c cid.Cid, data []byte) error {
				_, err := storage.Put(ctx, data)
				return err
			})
			if err != nil {
				return err
			}
			head, err := storage.GetHead(ctx, view.DID())
			if err != nil {
				return err
			}
			if err := storage.AdvanceHead(ctx, view.DID(), head, view.Head()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d blocks for %s, head %s rev %s\n",
				bundle.Len(), view.DID(), view.Head(), view.Rev())
			return nil
		},
	}
	c.Flags().StringVar(&rootStr, "root", "", "commit CID the archive must be rooted at; defaults to the archive's declared root")
	return c
}

// trustedRoot resolves the commit a verification is pinned to. Without
// --root the archive's declared root is adopted, so the operator is
// trusting the archive itself.
func (a *app) trustedRoot(rootStr string, bundle *car.Bundle) (cid.Cid, error) {
	if rootStr != "" {
		c, err := cid.Parse(rootStr)
		if err != nil {
			return cid.Undef, fmt.Errorf("parse --root: %w", err)
		}
		return c, nil
	}
	if len(bundle.Roots) != 1 {
		return cid.Undef, fmt.Errorf("archive declares %d roots, pass --root", len(bundle.Roots))
	}
	return bundle.Roots[0], nil
}

func (a *app) proveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prove <key> <archive>",
		Short: "write a proof archive for one key (inclusion or absence)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := a.openStorage()
			if err != nil {
				return err
			}
			defer storage.Close()
			ctx := cmd.Context()
			did, err := a.resolveDID()
			if err != nil {
				return err
			}
			head, err := storage.GetHead(ctx, did)
			if err != nil {
				return err
			}
			if !head.Defined() {
				return errors.New("repository has no commits")
			}
			bundle, err := proof.BuildInclusion(ctx, storage, head, args[0])
			if err != nil {
				return err
			}
			f, err := os.Create(args[1])
			if err != nil {
				return err
			}
			if err := bundle.Write(f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "proof for %q: %d blocks, head %s\n", args[0], bundle.Len(), head)
			return nil
		},
	}
}

func (a *app) verifyCmd() *cobra.Command {
	var rootStr string
	var wantCid string
	var absent bool
	cmd := &cobra.Command{
		Use:   "verify <archive> <key>",
		Short: "check a proof archive against a trusted commit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			trusted, err := cid.Parse(rootStr)
			if err != nil {
				return fmt.Errorf("parse --root: %w", err)
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			bundle, err := car.Read(f)
			f.Close()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			key := args[1]
			switch {
			case absent:
				if err := proof.VerifyAbsence(ctx, trusted, bundle, key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "verified: %q is absent under %s\n", key, trusted)
			case wantCid != "":
				want, err := cid.Parse(wantCid)
				if err != nil {
					return fmt.Errorf("parse --cid: %w", err)
				}
				if err := proof.VerifyInclusion(ctx, trusted, bundle, key, want); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "verified: %q -> %s under %s\n", key, want, trusted)
			default:
				return errors.New("pass --cid to verify a binding or --absent to verify absence")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rootStr, "root", "", "commit CID the caller trusts; the proof must be anchored to it")
	cmd.Flags().StringVar(&wantCid, "cid", "", "value CID the proof must establish for the key")
	cmd.Flags().BoolVar(&absent, "absent", false, "verify the key is absent rather than bound")
	cmd.MarkFlagRequired("root")
	return cmd
}
