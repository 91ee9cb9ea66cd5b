// Package cli wires the calvault CLI commands: account initialization,
// unlocking, recovery secret rotation, and status.
package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dkarpov/calvault/internal/client/config"
	"github.com/dkarpov/calvault/internal/client/datacodec"
	"github.com/dkarpov/calvault/internal/client/keystore"
	"github.com/dkarpov/calvault/internal/client/registry"
	"github.com/dkarpov/calvault/internal/client/unlock"
	"github.com/dkarpov/calvault/internal/common"
)

// App holds the wired client components behind the CLI commands.
type App struct {
	cfg     *config.Config
	db      *sql.DB
	session *unlock.Session
	userID  string
}

func NewApp(cfg *config.Config) *App {
	return &App{cfg: cfg}
}

// Execute builds the command tree and runs it.
func (a *App) Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:           "calvault",
		Short:         "calvault manages the encryption keys protecting your calendar data",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.userID == "" {
				return errors.New("--user is required")
			}
			return a.open(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVarP(&a.userID, "user", "u", "", "account user id")

	root.AddCommand(a.initCmd(), a.unlockCmd(), a.rotateCmd(), a.statusCmd(),
		a.encryptCmd(), a.decryptCmd())

	return root.ExecuteContext(ctx)
}

// open connects the device keystore and the registry client and builds a
// fresh session.
func (a *App) open(ctx context.Context) error {
	db, err := keystore.OpenDatabase(ctx, a.cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening device keystore: %w", err)
	}
	a.db = db

	store := keystore.NewStore(keystore.NewSQLiteKV(db))
	reg := registry.NewClient(a.cfg.ServerEndpointAddr, a.cfg.RequestTimeout)
	a.session = unlock.NewSession(reg, store)
	return nil
}

func (a *App) close() {
	if a.db != nil {
		a.db.Close()
	}
}

func (a *App) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Set up encryption for this account and print the recovery secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.session.Initialize(cmd.Context(), a.userID)
			if err != nil && !errors.Is(err, common.ErrTrustSave) {
				if errors.Is(err, common.ErrRegistrySave) {
					return errors.New("could not save the key record to the server; nothing was changed")
				}
				return err
			}

			fmt.Println("Encryption is set up. Your recovery secret is:")
			fmt.Println()
			fmt.Println("  " + res.RecoveryDisplay)
			fmt.Println()
			fmt.Println("Write it down and store it safely. It will not be shown again,")
			fmt.Println("and without it your data cannot be recovered on a new device.")

			if err != nil {
				fmt.Println()
				fmt.Println("Warning: this device could not be marked trusted; run 'calvault unlock' later.")
			}
			return nil
		},
	}
}

func (a *App) unlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Unlock this device, prompting for the recovery secret if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.session.UnlockWithDevice(cmd.Context(), a.userID)
			if err == nil {
				fmt.Printf("Unlocked (trusted device, key version %d).\n", res.Version)
				return nil
			}
			if errors.Is(err, common.ErrNotInitialized) {
				return errors.New("this account has no encryption set up yet; run 'calvault init'")
			}
			if !errors.Is(err, common.ErrUnlockRequired) {
				return err
			}

			secret, err := promptSecret("This device is not trusted. Enter your recovery secret: ")
			if err != nil {
				return err
			}

			res, err = a.session.UnlockWithRecovery(cmd.Context(), a.userID, secret)
			if err != nil && !errors.Is(err, common.ErrTrustSave) {
				if errors.Is(err, common.ErrInvalidRecoveryKey) {
					return errors.New("that does not look like a recovery secret; check for typos")
				}
				if errors.Is(err, common.ErrDecryptFailed) {
					return errors.New("the recovery secret did not match")
				}
				return err
			}

			if err != nil {
				fmt.Printf("Unlocked (recovery secret, key version %d), but this device could not be marked trusted.\n", res.Version)
				return nil
			}
			fmt.Printf("Unlocked (recovery secret, key version %d). This device is now trusted.\n", res.Version)
			return nil
		},
	}
}

func (a *App) rotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Replace the recovery secret, keeping all data readable",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			old, err := promptSecret("Enter your current recovery secret: ")
			if err != nil {
				return err
			}

			// Rotation requires an unlocked session; the recovery secret
			// just entered doubles as the unlock credential.
			if _, err := a.session.UnlockWithDevice(ctx, a.userID); err != nil {
				if errors.Is(err, common.ErrNotInitialized) {
					return errors.New("this account has no encryption set up yet; run 'calvault init'")
				}
				if !errors.Is(err, common.ErrUnlockRequired) {
					return err
				}
				if _, err := a.session.UnlockWithRecovery(ctx, a.userID, old); err != nil && !errors.Is(err, common.ErrTrustSave) {
					if errors.Is(err, common.ErrDecryptFailed) || errors.Is(err, common.ErrInvalidRecoveryKey) {
						return errors.New("the recovery secret did not match")
					}
					return err
				}
			}

			res, err := a.session.Rotate(ctx, a.userID, old)
			if err != nil && !errors.Is(err, common.ErrTrustSave) {
				if errors.Is(err, common.ErrDecryptFailed) || errors.Is(err, common.ErrInvalidRecoveryKey) {
					return errors.New("the recovery secret did not match; nothing was changed")
				}
				return err
			}

			fmt.Printf("Rotated to key version %d. Your new recovery secret is:\n", res.NewVersion)
			fmt.Println()
			fmt.Println("  " + res.RecoveryDisplay)
			fmt.Println()
			fmt.Println("The old secret no longer works. Write the new one down and store it safely.")

			if err != nil {
				fmt.Println()
				fmt.Println("Warning: this device could not be marked trusted; run 'calvault unlock' later.")
			}
			return nil
		},
	}
}

func (a *App) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether this device can unlock silently",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.session.UnlockWithDevice(cmd.Context(), a.userID)
			switch {
			case err == nil:
				fmt.Printf("Ready: trusted device, key version %d.\n", res.Version)
			case errors.Is(err, common.ErrNotInitialized):
				fmt.Println("Not initialized: run 'calvault init' to set up encryption.")
			case errors.Is(err, common.ErrUnlockRequired):
				fmt.Println("Locked: this device is not trusted; run 'calvault unlock'.")
			default:
				return err
			}
			return nil
		},
	}
}

func (a *App) encryptCmd() *cobra.Command {
	var recordID string
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a record payload from stdin, writing the envelope as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataKey, err := a.ensureUnlocked(cmd.Context())
			if err != nil {
				return err
			}

			payload, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}

			env, err := datacodec.Encrypt(dataKey, recordID, json.RawMessage(payload))
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(env)
		},
	}
	cmd.Flags().StringVarP(&recordID, "record", "r", "", "record id the payload belongs to")
	_ = cmd.MarkFlagRequired("record")
	return cmd
}

func (a *App) decryptCmd() *cobra.Command {
	var recordID string
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt an envelope from stdin, writing the record payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataKey, err := a.ensureUnlocked(cmd.Context())
			if err != nil {
				return err
			}

			var env datacodec.Envelope
			if err := json.NewDecoder(os.Stdin).Decode(&env); err != nil {
				return err
			}

			var payload json.RawMessage
			if err := datacodec.Decrypt(dataKey, recordID, &env, &payload); err != nil {
				if errors.Is(err, common.ErrDecryptFailed) {
					return errors.New("the envelope could not be decrypted for this record")
				}
				return err
			}
			_, err = os.Stdout.Write(append(payload, '\n'))
			return err
		},
	}
	cmd.Flags().StringVarP(&recordID, "record", "r", "", "record id the envelope belongs to")
	_ = cmd.MarkFlagRequired("record")
	return cmd
}

// ensureUnlocked unlocks the session via the trusted-device path, prompting
// for the recovery secret when the device is not trusted, and returns the
// data key.
func (a *App) ensureUnlocked(ctx context.Context) ([]byte, error) {
	_, err := a.session.UnlockWithDevice(ctx, a.userID)
	if errors.Is(err, common.ErrNotInitialized) {
		return nil, errors.New("this account has no encryption set up yet; run 'calvault init'")
	}
	if errors.Is(err, common.ErrUnlockRequired) {
		secret, perr := promptSecret("This device is not trusted. Enter your recovery secret: ")
		if perr != nil {
			return nil, perr
		}
		if _, err = a.session.UnlockWithRecovery(ctx, a.userID, secret); err != nil && !errors.Is(err, common.ErrTrustSave) {
			if errors.Is(err, common.ErrInvalidRecoveryKey) || errors.Is(err, common.ErrDecryptFailed) {
				return nil, errors.New("the recovery secret did not match")
			}
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return a.session.DataKey()
}

// promptSecret reads a line without echo when stdin is a terminal, falling
// back to a plain read otherwise (pipes, tests).
func promptSecret(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}

	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
