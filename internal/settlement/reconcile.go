package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/herfa-app/herfa-backend/internal/cron"
	"github.com/herfa-app/herfa-backend/internal/ledger"
	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
	"github.com/herfa-app/herfa-backend/pkg/logger"
)

const (
	defaultReconcileLookback = 2 * time.Hour
	defaultReconcileBatch    = 500
)

type reconciler interface {
	WalletsUpdatedSince(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
	Reconcile(ctx context.Context, walletID uuid.UUID) (*ledger.ReconcileReport, error)
}

// LedgerReconcileJobParams wires the wallet integrity audit.
type LedgerReconcileJobParams struct {
	Logger    *logger.Logger
	Ledger    reconciler
	Lookback  time.Duration
	BatchSize int
	Now       func() time.Time
}

// NewLedgerReconcileJob audits recently touched wallets against their
// transaction log. Divergences are reported, never corrected.
func NewLedgerReconcileJob(params LedgerReconcileJobParams) (cron.Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultReconcileLookback
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &ledgerReconcileJob{
		logg:     params.Logger,
		ledger:   params.Ledger,
		lookback: lookback,
		batch:    batch,
		now:      now,
	}, nil
}

type ledgerReconcileJob struct {
	logg     *logger.Logger
	ledger   reconciler
	lookback time.Duration
	batch    int
	now      func() time.Time
}

func (j *ledgerReconcileJob) Name() string { return "ledger-reconcile" }

func (j *ledgerReconcileJob) Run(ctx context.Context) error {
	since := j.now().UTC().Add(-j.lookback)
	walletIDs, err := j.ledger.WalletsUpdatedSince(ctx, since, j.batch)
	if err != nil {
		return fmt.Errorf("list wallets: %w", err)
	}

	var (
		errs       error
		diverged   int
		reconciled int
	)
	for _, walletID := range walletIDs {
		_, err := j.ledger.Reconcile(ctx, walletID)
		switch {
		case err == nil:
			reconciled++
		case pkgerrors.IsCode(err, pkgerrors.CodeDataIntegrity):
			diverged++
			logCtx := j.logg.WithWalletID(ctx, walletID.String())
			logCtx = j.logg.WithField(logCtx, "details", pkgerrors.As(err).Details())
			j.logg.Error(logCtx, "wallet balance diverges from ledger", err)
			errs = multierr.Append(errs, err)
		default:
			errs = multierr.Append(errs, fmt.Errorf("reconcile wallet %s: %w", walletID, err))
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"since":      since,
		"wallets":    len(walletIDs),
		"reconciled": reconciled,
		"diverged":   diverged,
	})
	j.logg.Info(logCtx, "ledger reconcile complete")
	return errs
}
