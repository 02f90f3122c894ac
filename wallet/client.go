package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/Routstr/sixty-nuts/cashu"
	"github.com/Routstr/sixty-nuts/cashu/nuts/nut01"
	"github.com/Routstr/sixty-nuts/cashu/nuts/nut02"
	"github.com/Routstr/sixty-nuts/cashu/nuts/nut03"
	"github.com/Routstr/sixty-nuts/cashu/nuts/nut04"
	"github.com/Routstr/sixty-nuts/cashu/nuts/nut05"
	"github.com/Routstr/sixty-nuts/cashu/nuts/nut06"
	"github.com/Routstr/sixty-nuts/cashu/nuts/nut07"
)

// mintRetries bounds the exponential backoff applied to 5xx/network errors
// from the mint (§7: "5xx/network retried with exponential backoff up to a
// small bound; 4xx surface immediately").
const mintRetries = 3

func GetMintInfo(ctx context.Context, mintURL string) (*nut06.MintInfo, error) {
	resp, err := get(ctx, mintURL+"/v1/info")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var mintInfo nut06.MintInfo
	if err := json.Unmarshal(body, &mintInfo); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &mintInfo, nil
}

func GetActiveKeysets(ctx context.Context, mintURL string) (*nut01.GetKeysResponse, error) {
	resp, err := get(ctx, mintURL+"/v1/keys")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var keysetRes nut01.GetKeysResponse
	if err := json.Unmarshal(body, &keysetRes); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &keysetRes, nil
}

func GetAllKeysets(ctx context.Context, mintURL string) (*nut02.GetKeysetsResponse, error) {
	resp, err := get(ctx, mintURL+"/v1/keysets")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var keysetsRes nut02.GetKeysetsResponse
	if err := json.Unmarshal(body, &keysetsRes); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &keysetsRes, nil
}

func GetKeysetById(ctx context.Context, mintURL, id string) (*nut01.GetKeysResponse, error) {
	resp, err := get(ctx, mintURL+"/v1/keys/"+id)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var keysetRes nut01.GetKeysResponse
	if err := json.Unmarshal(body, &keysetRes); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &keysetRes, nil
}

func PostMintQuoteBolt11(ctx context.Context, mintURL string, mintQuoteRequest nut04.PostMintQuoteBolt11Request) (
	*nut04.PostMintQuoteBolt11Response, error) {
	requestBody, err := json.Marshal(mintQuoteRequest)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := httpPost(ctx, mintURL+"/v1/mint/quote/bolt11", "application/json", requestBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var reqMintResponse nut04.PostMintQuoteBolt11Response
	if err := json.Unmarshal(body, &reqMintResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &reqMintResponse, nil
}

func GetMintQuoteState(ctx context.Context, mintURL, quoteId string) (*nut04.PostMintQuoteBolt11Response, error) {
	resp, err := get(ctx, mintURL+"/v1/mint/quote/bolt11/"+quoteId)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var mintQuoteResponse nut04.PostMintQuoteBolt11Response
	if err := json.Unmarshal(body, &mintQuoteResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &mintQuoteResponse, nil
}

func PostMintBolt11(ctx context.Context, mintURL string, mintRequest nut04.PostMintBolt11Request) (
	*nut04.PostMintBolt11Response, error) {
	requestBody, err := json.Marshal(mintRequest)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := httpPost(ctx, mintURL+"/v1/mint/bolt11", "application/json", requestBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var reqMintResponse nut04.PostMintBolt11Response
	if err := json.Unmarshal(body, &reqMintResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &reqMintResponse, nil
}

func PostSwap(ctx context.Context, mintURL string, swapRequest nut03.PostSwapRequest) (*nut03.PostSwapResponse, error) {
	requestBody, err := json.Marshal(swapRequest)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := httpPost(ctx, mintURL+"/v1/swap", "application/json", requestBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var swapResponse nut03.PostSwapResponse
	if err := json.Unmarshal(body, &swapResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &swapResponse, nil
}

func PostMeltQuoteBolt11(ctx context.Context, mintURL string, meltQuoteRequest nut05.PostMeltQuoteBolt11Request) (
	*nut05.PostMeltQuoteBolt11Response, error) {

	requestBody, err := json.Marshal(meltQuoteRequest)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := httpPost(ctx, mintURL+"/v1/melt/quote/bolt11", "application/json", requestBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var meltQuoteResponse nut05.PostMeltQuoteBolt11Response
	if err := json.Unmarshal(body, &meltQuoteResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &meltQuoteResponse, nil
}

func PostMeltBolt11(ctx context.Context, mintURL string, meltRequest nut05.PostMeltBolt11Request) (
	*nut05.PostMeltBolt11Response, error) {

	requestBody, err := json.Marshal(meltRequest)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := httpPost(ctx, mintURL+"/v1/melt/bolt11", "application/json", requestBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var meltResponse nut05.PostMeltBolt11Response
	if err := json.Unmarshal(body, &meltResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &meltResponse, nil
}

func PostCheckProofState(ctx context.Context, mintURL string, stateRequest nut07.PostCheckStateRequest) (
	*nut07.PostCheckStateResponse, error) {

	requestBody, err := json.Marshal(stateRequest)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := httpPost(ctx, mintURL+"/v1/checkstate", "application/json", requestBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var stateResponse nut07.PostCheckStateResponse
	if err := json.Unmarshal(body, &stateResponse); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	return &stateResponse, nil
}

func get(ctx context.Context, url string) (*http.Response, error) {
	return doWithRetry(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		return http.DefaultClient.Do(req)
	})
}

func httpPost(ctx context.Context, url, contentType string, body []byte) (*http.Response, error) {
	return doWithRetry(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return http.DefaultClient.Do(req)
	})
}

// doWithRetry issues the request, retrying with exponential backoff on 5xx
// responses or network errors; a 4xx is a Policy/MintRPC error and is
// never retried.
func doWithRetry(do func() (*http.Response, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < mintRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff(attempt))
		}

		resp, err := do()
		if err != nil {
			lastErr = err
			continue
		}

		parsed, parseErr := parse(resp)
		if parseErr == nil {
			return parsed, nil
		}

		var cashuErr cashu.Error
		if errors.As(parseErr, &cashuErr) {
			return nil, parseErr
		}
		if resp.StatusCode < 500 {
			return nil, parseErr
		}
		lastErr = parseErr
	}
	return nil, lastErr
}

func backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
}

func parse(response *http.Response) (*http.Response, error) {
	if response.StatusCode == 400 {
		var errResponse cashu.Error
		err := json.NewDecoder(response.Body).Decode(&errResponse)
		response.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("could not decode error response from mint: %v", err)
		}
		return nil, errResponse
	}

	if response.StatusCode != 200 {
		body, err := io.ReadAll(response.Body)
		response.Body.Close()
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("mint returned status %d: %s", response.StatusCode, body)
	}

	return response, nil
}
