package custody

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/idforge/custody/pkg/allowance"
	apperrors "github.com/idforge/custody/pkg/app/errors"
	apphttp "github.com/idforge/custody/pkg/app/http"
	"github.com/idforge/custody/pkg/auth"
	"github.com/idforge/custody/pkg/deposits"
	"github.com/idforge/custody/pkg/identity"
	"github.com/idforge/custody/pkg/resolver"
	"github.com/idforge/custody/pkg/sigguard"
	"github.com/idforge/custody/pkg/tokenledger"
)

// HTTP wraps the Service to provide HTTP endpoints
type HTTP struct {
	service *Service
	logger  *zap.Logger
}

// RegisterRoutes registers the custody endpoints on the given chi router
func RegisterRoutes(r chi.Router, service *Service, logger *zap.Logger) {
	h := &HTTP{service: service, logger: logger}

	r.Get("/identities/{ein}/balance", apphttp.HandleError(h.balance))
	r.Get("/identities/{ein}/resolvers/{resolver}/allowance", apphttp.HandleError(h.allowance))

	r.Post("/identities", apphttp.HandleError(h.mintIdentity))
	r.Post("/identities/{ein}/addresses", apphttp.HandleError(h.addAddress))
	r.Delete("/identities/{ein}/addresses/{address}", apphttp.HandleError(h.removeAddress))

	r.Post("/resolvers", apphttp.HandleError(h.addResolvers))
	r.Post("/resolvers/delegated", apphttp.HandleError(h.addResolversDelegated))
	r.Post("/resolvers/remove", apphttp.HandleError(h.removeResolvers))
	r.Post("/resolvers/remove/delegated", apphttp.HandleError(h.removeResolversDelegated))

	r.Post("/allowances", apphttp.HandleError(h.updateAllowances))
	r.Post("/allowances/delegated", apphttp.HandleError(h.changeAllowancesDelegated))

	r.Post("/transfers", apphttp.HandleError(h.transfer))
	r.Post("/transfers/from", apphttp.HandleError(h.transferFrom))
	r.Post("/withdrawals", apphttp.HandleError(h.withdraw))
	r.Post("/withdrawals/from", apphttp.HandleError(h.withdrawFrom))
	r.Post("/withdrawals/via", apphttp.HandleError(h.withdrawVia))

	r.Post("/deposits/notify", apphttp.HandleError(h.depositNotify))

	r.Post("/admin/signature-timeout", apphttp.HandleError(h.setSignatureTimeout))
	r.Post("/admin/token-contract", apphttp.HandleError(h.setTokenContract))
}

// toServiceError maps domain sentinels onto the error-category taxonomy.
func toServiceError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPermissionDenied),
		errors.Is(err, resolver.ErrPermissionDenied),
		errors.Is(err, sigguard.ErrPermissionDenied):
		return apperrors.UnAuthorizedError(err, "permission denied")
	case errors.Is(err, sigguard.ErrExpired):
		return apperrors.ExpiredError(err, "signature expired")
	case errors.Is(err, resolver.ErrAlreadyRegistered),
		errors.Is(err, allowance.ErrAlreadyRegistered):
		return apperrors.ConflictError(err, "resolver already registered")
	case errors.Is(err, resolver.ErrNotRegistered),
		errors.Is(err, allowance.ErrNotRegistered):
		return apperrors.ResourceNotFoundError(err, "resolver not registered")
	case errors.Is(err, resolver.ErrMalformedInput),
		errors.Is(err, allowance.ErrLengthMismatch),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrSelfWithdrawal):
		return apperrors.BadRequestError(err, err.Error())
	case errors.Is(err, allowance.ErrInsufficientAllowance):
		return apperrors.InsufficientFundsError(err, "insufficient allowance")
	case errors.Is(err, deposits.ErrInsufficientBalance):
		return apperrors.InsufficientFundsError(err, "insufficient balance")
	case errors.Is(err, ErrInvalidDestination),
		errors.Is(err, ErrUnknownRelay):
		return apperrors.ResourceNotFoundError(err, err.Error())
	case errors.Is(err, resolver.ErrSignUpRejected):
		return apperrors.CallbackRejectedError(err, "sign-up callback rejected")
	case errors.Is(err, resolver.ErrRemovalRejected):
		return apperrors.CallbackRejectedError(err, "removal callback rejected")
	case errors.Is(err, ErrTransferFailed):
		return apperrors.DependencyFailureError(err, "external token transfer failed")
	case errors.Is(err, ErrTokenContractSet):
		return apperrors.ConflictError(err, "token contract already configured")
	case errors.Is(err, sigguard.ErrTimeoutOutOfRange):
		return apperrors.BadRequestError(err, "signature timeout out of range")
	default:
		return apperrors.GeneralError(err)
	}
}

func caller(r *http.Request) (common.Address, error) {
	addr, ok := auth.CallerFromContext(r.Context())
	if !ok {
		return common.Address{}, apperrors.UnAuthorizedError(nil, "signature and message headers required")
	}
	return addr, nil
}

func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		return apperrors.BadRequestError(err, "failed to read request")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperrors.BadRequestError(err, "invalid JSON")
	}
	return nil
}

func parseEIN(s string) (identity.EIN, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, apperrors.BadRequestError(err, "invalid identity number")
	}
	return identity.EIN(n), nil
}

// parseAmount accepts base-unit integers and display-unit decimals
// ("1500000000000000000" and "1.5" name the same amount).
func parseAmount(s string) (*big.Int, error) {
	if strings.Contains(s, ".") {
		n, err := tokenledger.FromDisplay(s, tokenledger.DefaultDecimals)
		if err != nil {
			return nil, apperrors.BadRequestError(err, "invalid amount")
		}
		return n, nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, apperrors.BadRequestError(nil, "invalid amount")
	}
	return n, nil
}

func parseAmounts(in []string) ([]*big.Int, error) {
	out := make([]*big.Int, len(in))
	for i, s := range in {
		n, err := parseAmount(s)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func parseAddress(s string) (common.Address, error) {
	if !auth.ValidateAddress(s) {
		return common.Address{}, apperrors.BadRequestError(nil, "invalid address")
	}
	return common.HexToAddress(s), nil
}

func parseAddresses(in []string) ([]common.Address, error) {
	out := make([]common.Address, len(in))
	for i, s := range in {
		addr, err := parseAddress(s)
		if err != nil {
			return nil, err
		}
		out[i] = addr
	}
	return out, nil
}

func parseHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, apperrors.BadRequestError(err, "invalid hex payload")
	}
	return b, nil
}

func (h *HTTP) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

type statusResponse struct {
	Status string `json:"status"`
}

var okResponse = statusResponse{Status: "ok"}

func (h *HTTP) balance(w http.ResponseWriter, r *http.Request) error {
	ein, err := parseEIN(chi.URLParam(r, "ein"))
	if err != nil {
		return err
	}
	balance, err := h.service.Balance(r.Context(), ein)
	if err != nil {
		return toServiceError(err)
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"balance": balance.String(),
		"display": tokenledger.ToDisplay(balance, tokenledger.DefaultDecimals),
	})
	return nil
}

func (h *HTTP) allowance(w http.ResponseWriter, r *http.Request) error {
	ein, err := parseEIN(chi.URLParam(r, "ein"))
	if err != nil {
		return err
	}
	res, err := parseAddress(chi.URLParam(r, "resolver"))
	if err != nil {
		return err
	}
	remaining, err := h.service.allowances.Allowance(r.Context(), ein, res)
	if err != nil {
		return toServiceError(err)
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"allowance": remaining.String(),
		"display":   tokenledger.ToDisplay(remaining, tokenledger.DefaultDecimals),
	})
	return nil
}

func (h *HTTP) mintIdentity(w http.ResponseWriter, r *http.Request) error {
	addr, err := caller(r)
	if err != nil {
		return err
	}
	ein, err := h.service.MintIdentity(r.Context(), addr)
	if err != nil {
		return toServiceError(err)
	}
	h.writeJSON(w, http.StatusOK, map[string]uint64{"ein": uint64(ein)})
	return nil
}

func (h *HTTP) addAddress(w http.ResponseWriter, r *http.Request) error {
	if _, err := caller(r); err != nil {
		return err
	}
	ein, err := parseEIN(chi.URLParam(r, "ein"))
	if err != nil {
		return err
	}
	var req struct {
		Address string `json:"address"`
	}
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		return err
	}
	if err := h.service.AddAddress(r.Context(), ein, addr); err != nil {
		return toServiceError(err)
	}
	h.writeJSON(w, http.StatusOK, okResponse)
	return nil
}

func (h *HTTP) removeAddress(w http.ResponseWriter, r *http.Request) error {
	if _, err := caller(r); err != nil {
		return err
	}
	ein, err := parseEIN(chi.URLParam(r, "ein"))
	if err != nil {
		return err
	}
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		return err
	}
	if err := h.service.RemoveAddress(r.Context(), ein, addr); err != nil {
		return toServiceError(err)
	}
	h.writeJSON(w, http.StatusOK, okResponse)
	return nil
}

type resolverBatchRequest struct {
	EIN        uint64   `json:"ein"`
	Resolvers  []string `json:"resolvers"`
	Allowances []string `json:"allowances"`
	Force      bool     `json:"force,omitempty"`
	Approver   string   `json:"approver,omitempty"`
	Signature  string   `json:"signature,omitempty"`
	Timestamp  int64    `json:"timestamp,omitempty"`
}

func (h *HTTP) addResolvers(w http.ResponseWriter, r *http.Request) error {
	addr, err := caller(r)
	if err != nil {
		return err
	}
	var req resolverBatchRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	resolvers, err := parseAddresses(req.Resolvers)
	if err != nil {
		return err
	}
	amounts, err := parseAmounts(req.Allowances)
	if err != nil {
		return err
	}
	if err := h.service.Directory().Add(r.Context(), addr, identity.EIN(req.EIN), resolvers, amounts); err != nil {
		return toServiceError(err)
	}
	h.writeJSON(w, http.StatusOK, okResponse)
	return nil
}

func (h *HTTP) addResolversDelegated(w http.ResponseWriter, r *http.Request) error {
	var req resolverBatchRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	approver, err := parseAddress(req.Approver)
	if err != nil {
		return err
	}
	resolvers, err := parseAddresses(req.Resolvers)
	if err != nil {
		return err
	}
	amounts, err := parseAmounts(req.Allowances)
	if err != nil {
		return err
	}
	sig, err := parseHex(req.Signature)
	if err != nil {
		return err
	}
	err = h.service.Directory().AddFor(r.Context(), approver, identity.EIN(req.EIN),
		resolvers, amounts, sig, time.Unix(req.Timestamp, 0))
	if err != nil {
		return toServiceError(err)
	}
	h.writeJSON(w, http.StatusOK, okResponse)
	return nil
}

func (h *HTTP) removeResolvers(w http.ResponseWriter, r *http.Request) error {
	addr, err := caller(r)
	if err != nil {
		return err
	}
	var req resolverBatchRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	resolvers, err := parseAddresses(req.Resolvers)
	if err != nil {
		return err
	}
	if err := h.service.Directory().Remove(r.Context(), addr, identity.EIN(req.EIN), resolvers, req.Force); err != nil {
		return toServiceError(err)
	}
	h.writeJSON(w, http.StatusOK, okResponse)
	return nil
}

func (h *HTTP) removeResolversDelegated(w http.ResponseWriter, r *http.Request) error {
	var req resolverBatchRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	approver, err := parseAddress(req.Approver)
	if err != nil {
		return err
	}
	resolvers, err := parseAddresses(req.Resolvers)
	if err != nil {
		return err
	}
	sig, err := parseHex(req.Signature)
	if err != nil {
		return err
	}
	err = h.service.Directory().RemoveFor(r.Context(), approver, identity.EIN(req.EIN),
		resolvers, req.Force, sig, time.Unix(req.Timestamp, 0))
	if err != nil {
		return toServiceError(err)
	}
	h.writeJSON(w, http.StatusOK, okResponse)
	return nil
}

func (h *HTTP) updateAllowances(w http.ResponseWriter, r *http.Request) error {
	addr, err := caller(r)
	if err != nil {
		return err
	}
	var req resolverBatchRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	resolvers, err := parseAddresses(req.Resolvers)
	if err != nil {
		return err
	}
	amounts, err := parseAmounts(req.Allowances)
	if err != nil {
		return err
	}
	if err := h.service.UpdateAllowances(r.Context(), addr, resolvers, amounts); err != nil {
		return toServiceError(err)
	}
	h.writeJSON(w, http.StatusOK, okResponse)
	return nil
}

func (h *HTTP) changeAllowancesDelegated(w http.ResponseWriter, r *http.Request) error {
	var req resolverBatchRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	approver, err := parseAddress(req.Approver)
	if err != nil {
		return err
	}
	resolvers, err := parseAddresses(req.Resolvers)
	if err != nil {
		return err
	}
	amounts, err := parseAmounts(req.Allowances)
	if err != nil {
		return err
	}
	sig, err := parseHex(req.Signature)
	if err != nil {
		return err
	}
	err = h.service.ChangeAllowancesFor(r.Context(), approver, identity.EIN(req.EIN),
		resolvers, amounts, sig, time.Unix(req.Timestamp, 0))
	if err != nil {
		return toServiceError(err)
	}
	h.writeJSON(w, http.StatusOK, okResponse)
	return nil
}

type transferRequest struct {
	From      uint64 `json:"from,omitempty"`
	ToEIN     uint64 `json:"to_ein,omitempty"`
	ToAddress string `json:"to_address,omitempty"`
	Via       string `json:"via,omitempty"`
	Amount    string `json:"amount"`
	Payload   string `json:"payload,omitempty"`
}

func (h *HTTP) transfer(w http.ResponseWriter, r *http.Request) error {
	addr, err := caller(r)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}
	if err := h.service.Transfer(r.Context(), addr, identity.EIN(req.ToEIN), amount); err != nil {
		return toServiceError(err)
	}
	h.writeJSON(w, http.StatusOK, okResponse)
	return nil
}

func (h *HTTP) transferFrom(w http.ResponseWriter, r *http.Request) error {
	addr, err := caller(r)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}
	err = h.service.TransferFrom(r.Context(), addr, identity.EIN(req.From), identity.EIN(req.ToEIN), amount)
	if err != nil {
		return toServiceError(err)
	}
	h.writeJSON(w, http.StatusOK, okResponse)
	return nil
}

func (h *HTTP) withdraw(w http.ResponseWriter, r *http.Request) error {
	addr, err := caller(r)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	to, err := parseAddress(req.ToAddress)
	if err != nil {
		return err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}
	if err := h.service.Withdraw(r.Context(), addr, to, amount); err != nil {
		return toServiceError(err)
	}
	h.writeJSON(w, http.StatusOK, okResponse)
	return nil
}

func (h *HTTP) withdrawFrom(w http.ResponseWriter, r *http.Request) error {
	addr, err := caller(r)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	to, err := parseAddress(req.ToAddress)
	if err != nil {
		return err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}
	err = h.service.WithdrawFrom(r.Context(), addr, identity.EIN(req.From), to, amount)
	if err != nil {
		return toServiceError(err)
	}
	h.writeJSON(w, http.StatusOK, okResponse)
	return nil
}

// withdrawVia routes to the identity- or address-destination shape based on
// which destination field the request carries.
func (h *HTTP) withdrawVia(w http.ResponseWriter, r *http.Request) error {
	addr, err := caller(r)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	via, err := parseAddress(req.Via)
	if err != nil {
		return err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}
	var payload []byte
	if req.Payload != "" {
		if payload, err = parseHex(req.Payload); err != nil {
			return err
		}
	}

	if req.ToAddress != "" {
		to, err := parseAddress(req.ToAddress)
		if err != nil {
			return err
		}
		err = h.service.WithdrawFromViaAddress(r.Context(), addr, identity.EIN(req.From), via, to, amount, payload)
		if err != nil {
			return toServiceError(err)
		}
	} else {
		err = h.service.WithdrawFromViaIdentity(r.Context(), addr, identity.EIN(req.From), via, identity.EIN(req.ToEIN), amount, payload)
		if err != nil {
			return toServiceError(err)
		}
	}
	h.writeJSON(w, http.StatusOK, okResponse)
	return nil
}

// depositNotify credits a deposit reported by the token ledger. The notifier
// authenticates as the token contract: the token identity is the recovered
// caller address, never a request field, so an anonymous or third-party POST
// cannot mint entitlement.
func (h *HTTP) depositNotify(w http.ResponseWriter, r *http.Request) error {
	notifier, err := caller(r)
	if err != nil {
		return err
	}
	var req struct {
		Sender string `json:"sender"`
		Amount string `json:"amount"`
		Hint   string `json:"hint,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	sender, err := parseAddress(req.Sender)
	if err != nil {
		return err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}
	var hint []byte
	if req.Hint != "" {
		if hint, err = parseHex(req.Hint); err != nil {
			return err
		}
	}
	if err := h.service.OnIncomingTransfer(r.Context(), sender, amount, notifier, hint); err != nil {
		return toServiceError(err)
	}
	h.writeJSON(w, http.StatusOK, okResponse)
	return nil
}

func (h *HTTP) setSignatureTimeout(w http.ResponseWriter, r *http.Request) error {
	addr, err := caller(r)
	if err != nil {
		return err
	}
	var req struct {
		Seconds int64 `json:"seconds"`
	}
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if err := h.service.SetSignatureTimeout(addr, time.Duration(req.Seconds)*time.Second); err != nil {
		return toServiceError(err)
	}
	h.writeJSON(w, http.StatusOK, okResponse)
	return nil
}

func (h *HTTP) setTokenContract(w http.ResponseWriter, r *http.Request) error {
	addr, err := caller(r)
	if err != nil {
		return err
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	token, err := parseAddress(req.Token)
	if err != nil {
		return err
	}
	if err := h.service.SetTokenContract(addr, token); err != nil {
		return toServiceError(err)
	}
	h.writeJSON(w, http.StatusOK, okResponse)
	return nil
}
