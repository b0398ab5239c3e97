package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/herfa-app/herfa-backend/api/responses"
	paymobwebhook "github.com/herfa-app/herfa-backend/internal/webhooks/paymob"
	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
	"github.com/herfa-app/herfa-backend/pkg/logger"
)

const maxCallbackBytes = 1 << 20

type PaymobWebhookService interface {
	HandleCallback(ctx context.Context, cb *paymobwebhook.Callback) (*paymobwebhook.Result, error)
}

// PaymobWebhookGuard claims Paymob transaction ids so a retried callback
// credits the wallet once.
type PaymobWebhookGuard interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

type callbackResponse struct {
	Status string `json:"status"`
}

// PaymobWebhook credits wallets from Paymob transaction callbacks. The
// signature is checked only when a secret is configured.
func PaymobWebhook(svc PaymobWebhookService, secret string, guard PaymobWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		if secret != "" {
			signature := r.Header.Get("hmac")
			if signature == "" {
				signature = r.URL.Query().Get("hmac")
			}
			if signature == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "paymob signature missing"))
				return
			}
			if !paymobwebhook.VerifySignature(secret, payload, signature) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid paymob signature"))
				return
			}
		}

		cb, err := paymobwebhook.ParseCallback(payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		fresh, err := guard.Claim(ctx, cb.EventID())
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if !fresh {
			responses.WriteSuccess(w, callbackResponse{Status: string(paymobwebhook.OutcomeDuplicate)})
			return
		}

		result, err := svc.HandleCallback(ctx, cb)
		if err != nil {
			_ = guard.Release(ctx, cb.EventID())
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if result.Outcome == paymobwebhook.OutcomePending {
			// a pending transaction is posted again once it settles
			_ = guard.Release(ctx, cb.EventID())
		}
		responses.WriteSuccess(w, callbackResponse{Status: string(result.Outcome)})
	}
}
