package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/deepfake-detector/internal/apperror"
	"github.com/example/deepfake-detector/internal/model"
	"github.com/example/deepfake-detector/internal/repository"
	"github.com/example/deepfake-detector/internal/repository/backends"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var (
		batch   int
		reverse bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy users and detections from the relational to the document backend",
		Long: "Copy every user and detection from the relational backend to the document backend.\n" +
			"Records already present in the target are skipped, so the command can be re-run.\n" +
			"With --reverse the copy runs from the document backend back to the relational one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if batch <= 0 || batch > model.MaxLimit {
				return fmt.Errorf("--batch must be between 1 and %d", model.MaxLimit)
			}
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			ctx := cmd.Context()

			relational, err := backends.OpenRelational(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("open relational backend: %w", err)
			}
			defer relational.Close(context.Background())
			document, err := backends.OpenDocument(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("open document backend: %w", err)
			}
			defer document.Close(context.Background())

			src, dst := relational, document
			if reverse {
				src, dst = document, relational
			}
			report, err := runMigrate(ctx, src, dst, batch, logger)
			fmt.Fprintf(cmd.OutOrStdout(), "users: %d copied, %d skipped\ndetections: %d copied, %d skipped\n",
				report.Users, report.UsersSkipped, report.Detections, report.DetectionsSkipped)
			return err
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 100, "records read per page")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "copy from the document backend to the relational backend")
	return cmd
}

type migrationReport struct {
	Users             int
	UsersSkipped      int
	Detections        int
	DetectionsSkipped int
}

// runMigrate copies src into dst page by page, keeping ids and timestamps.
func runMigrate(ctx context.Context, src, dst repository.Store, batch int, logger *zap.Logger) (migrationReport, error) {
	logger = logger.Named("migrate")
	var report migrationReport

	for offset := 0; ; offset += batch {
		users, err := src.ListUsers(ctx, offset, batch)
		if err != nil {
			return report, fmt.Errorf("list users at offset %d: %w", offset, err)
		}
		if len(users) == 0 {
			break
		}

		for i := range users {
			u := users[i]
			err := dst.CreateUser(ctx, &u)
			switch {
			case errors.Is(err, apperror.ErrConflict):
				report.UsersSkipped++
			case err != nil:
				return report, fmt.Errorf("copy user %s: %w", u.ID, err)
			default:
				report.Users++
			}
			if err := copyDetections(ctx, src, dst, u.ID, batch, &report); err != nil {
				return report, err
			}
		}
		logger.Info("migrated users page", zap.Int("offset", offset), zap.Int("count", len(users)))
	}

	logger.Info("migration complete",
		zap.Int("users", report.Users),
		zap.Int("users_skipped", report.UsersSkipped),
		zap.Int("detections", report.Detections),
		zap.Int("detections_skipped", report.DetectionsSkipped))
	return report, nil
}

func copyDetections(ctx context.Context, src, dst repository.Store, userID string, batch int, report *migrationReport) error {
	for page := 1; ; page++ {
		result, err := src.ListDetections(ctx, userID, page, batch)
		if err != nil {
			return fmt.Errorf("list detections of %s: %w", userID, err)
		}
		for i := range result.Items {
			d := result.Items[i]
			_, err := dst.GetDetection(ctx, d.ID, userID)
			if err == nil {
				report.DetectionsSkipped++
				continue
			}
			if !errors.Is(err, apperror.ErrNotFound) {
				return fmt.Errorf("check detection %s: %w", d.ID, err)
			}
			if err := dst.CreateDetection(ctx, &d); err != nil {
				return fmt.Errorf("copy detection %s: %w", d.ID, err)
			}
			report.Detections++
		}
		if page >= result.Pages {
			return nil
		}
	}
}
