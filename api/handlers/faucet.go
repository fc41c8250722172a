package handlers

import (
	"context"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/escrow/escrow/pkg/faucet"
	"github.com/malbeclabs/escrow/escrow/pkg/state"
	"github.com/malbeclabs/escrow/ledger/pkg/identity"
)

type FaucetResponse struct {
	Seed           string           `json:"seed"`
	Mint           solana.PublicKey `json:"mint"`
	Pool           solana.PublicKey `json:"pool"`
	Authority      solana.PublicKey `json:"authority"`
	Admin          solana.PublicKey `json:"admin"`
	RateLimit      uint64           `json:"rate_limit"`
	CooldownPeriod int64            `json:"cooldown_period"`
	PoolBalance    uint64           `json:"pool_balance"`
}

type UserRecordResponse struct {
	User          solana.PublicKey `json:"user"`
	LastRequest   int64            `json:"last_request"`
	TotalReceived uint64           `json:"total_received"`
	RequestCount  uint32           `json:"request_count"`
}

type InitializeFaucetRequest struct {
	Seed          string `json:"seed"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	URI           string `json:"uri"`
	InitialSupply uint64 `json:"initial_supply"`
}

type RequestTokensRequest struct {
	Amount uint64 `json:"amount"`
}

type DeleteFaucetResponse struct {
	Burned   uint64 `json:"burned"`
	Refunded uint64 `json:"refunded"`
}

func newUserRecordResponse(rec *state.UserRequestRecord) UserRecordResponse {
	return UserRecordResponse{
		User:          rec.User,
		LastRequest:   rec.LastRequest,
		TotalReceived: rec.TotalReceived,
		RequestCount:  rec.RequestCount,
	}
}

func (a *API) faucetResponse(ctx context.Context, f *state.Faucet) (FaucetResponse, error) {
	balance, err := a.faucet.PoolBalance(ctx, f.Seed)
	if err != nil {
		return FaucetResponse{}, err
	}
	return FaucetResponse{
		Seed:           f.Seed,
		Mint:           f.Mint,
		Pool:           f.Pool,
		Authority:      f.Authority,
		Admin:          f.Admin,
		RateLimit:      f.RateLimit,
		CooldownPeriod: f.CooldownPeriod,
		PoolBalance:    balance,
	}, nil
}

// GetFaucet handles GET /faucets/{seed}.
func (a *API) GetFaucet(w http.ResponseWriter, r *http.Request) {
	f, err := a.faucet.Get(r.Context(), chi.URLParam(r, "seed"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.faucetResponse(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetUserRecord handles GET /faucets/{seed}/users/{user}.
func (a *API) GetUserRecord(w http.ResponseWriter, r *http.Request) {
	user, err := identity.Parse(chi.URLParam(r, "user"))
	if err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	rec, err := a.faucet.UserRecord(r.Context(), chi.URLParam(r, "seed"), user)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserRecordResponse(rec))
}

// InitializeFaucet handles POST /faucets. The signer pays for and administers
// the new faucet.
func (a *API) InitializeFaucet(w http.ResponseWriter, r *http.Request) {
	var req InitializeFaucetRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	params := faucet.InitializeParams{
		Seed:          req.Seed,
		Name:          req.Name,
		Symbol:        req.Symbol,
		URI:           req.URI,
		InitialSupply: req.InitialSupply,
	}

	var f *state.Faucet
	err := a.invoke(r.Context(), "faucet_initialize", func() (err error) {
		f, err = a.faucet.Initialize(r.Context(), a.signer(r), params)
		return err
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.faucetResponse(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// RequestTokens handles POST /faucets/{seed}/requests.
func (a *API) RequestTokens(w http.ResponseWriter, r *http.Request) {
	var req RequestTokensRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	seed := chi.URLParam(r, "seed")

	var rec *state.UserRequestRecord
	err := a.invoke(r.Context(), "faucet_request", func() (err error) {
		rec, err = a.faucet.Request(r.Context(), a.signer(r), seed, req.Amount)
		return err
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserRecordResponse(rec))
}

// DeleteFaucet handles DELETE /faucets/{seed}. With ?burn=true the pool is
// burned first.
func (a *API) DeleteFaucet(w http.ResponseWriter, r *http.Request) {
	seed := chi.URLParam(r, "seed")
	burn := r.URL.Query().Get("burn") == "true"

	var res faucet.DeleteResult
	err := a.invoke(r.Context(), "faucet_delete", func() (err error) {
		if burn {
			res, err = a.faucet.BurnAndDelete(r.Context(), a.signer(r), seed)
		} else {
			res, err = a.faucet.Delete(r.Context(), a.signer(r), seed)
		}
		return err
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteFaucetResponse{Burned: res.Burned, Refunded: res.Refunded})
}
