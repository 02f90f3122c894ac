package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

type lnurlPayParams struct {
	Callback    string `json:"callback"`
	MaxSendable int64  `json:"maxSendable"`
	MinSendable int64  `json:"minSendable"`
	Metadata    string `json:"metadata"`
	Tag         string `json:"tag"`
}

type lnurlPayCallbackResponse struct {
	PR     string `json:"pr"`
	Reason string `json:"reason"`
	Status string `json:"status"`
}

// ResolveLightningAddress turns a "user@domain" lightning address or a raw
// "lnurl1..." LNURL-pay string into a bolt11 invoice for amountSats,
// decoding the returned invoice to confirm its amount matches what was
// requested before handing it back for Melt to pay.
func (w *Wallet) ResolveLightningAddress(ctx context.Context, address string, amountSats uint64) (string, error) {
	endpoint, err := lnurlPayEndpoint(address)
	if err != nil {
		return "", err
	}

	params, err := fetchLnurlParams(ctx, endpoint)
	if err != nil {
		return "", err
	}
	if params.Tag != "payRequest" {
		return "", fmt.Errorf("wallet: %s is not an LNURL-pay endpoint (tag=%q)", address, params.Tag)
	}

	amountMsat := int64(amountSats) * 1000
	if amountMsat < params.MinSendable || amountMsat > params.MaxSendable {
		return "", fmt.Errorf("wallet: %d msat outside LNURL-pay bounds [%d, %d]",
			amountMsat, params.MinSendable, params.MaxSendable)
	}

	sep := "?"
	if strings.Contains(params.Callback, "?") {
		sep = "&"
	}
	callbackURL := fmt.Sprintf("%s%samount=%d", params.Callback, sep, amountMsat)

	cb, err := fetchLnurlCallback(ctx, callbackURL)
	if err != nil {
		return "", err
	}
	if cb.Status == "ERROR" {
		return "", fmt.Errorf("wallet: LNURL callback error: %s", cb.Reason)
	}
	if cb.PR == "" {
		return "", fmt.Errorf("wallet: LNURL callback returned no invoice")
	}

	decoded, err := decodepay.Decodepay(cb.PR)
	if err != nil {
		return "", fmt.Errorf("wallet: decode LNURL invoice: %w", err)
	}
	if decoded.MSatoshi != amountMsat {
		return "", fmt.Errorf("wallet: LNURL invoice amount %d msat does not match requested %d msat",
			decoded.MSatoshi, amountMsat)
	}

	return cb.PR, nil
}

func lnurlPayEndpoint(address string) (string, error) {
	if user, domain, ok := strings.Cut(address, "@"); ok && domain != "" {
		return fmt.Sprintf("https://%s/.well-known/lnurlp/%s", domain, user), nil
	}

	if strings.HasPrefix(strings.ToLower(address), "lnurl1") {
		hrp, data, err := bech32.Decode(address)
		if err != nil {
			return "", fmt.Errorf("wallet: invalid lnurl: %w", err)
		}
		if hrp != "lnurl" {
			return "", fmt.Errorf("wallet: expected lnurl1... string, got hrp %q", hrp)
		}
		converted, err := bech32.ConvertBits(data, 5, 8, false)
		if err != nil {
			return "", fmt.Errorf("wallet: decode lnurl payload: %w", err)
		}
		return string(converted), nil
	}

	if strings.HasPrefix(address, "https://") || strings.HasPrefix(address, "http://") {
		return address, nil
	}

	return "", fmt.Errorf("wallet: %q is not a lightning address or LNURL", address)
}

func fetchLnurlParams(ctx context.Context, endpoint string) (*lnurlPayParams, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wallet: fetch LNURL params: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var params lnurlPayParams
	if err := json.Unmarshal(body, &params); err != nil {
		return nil, fmt.Errorf("wallet: decode LNURL params: %w", err)
	}
	return &params, nil
}

func fetchLnurlCallback(ctx context.Context, callbackURL string) (*lnurlPayCallbackResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, callbackURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wallet: fetch LNURL invoice: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var cb lnurlPayCallbackResponse
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("wallet: decode LNURL callback: %w", err)
	}
	return &cb, nil
}
