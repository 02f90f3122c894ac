package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Routstr/sixty-nuts/cashu"
	"github.com/Routstr/sixty-nuts/wallet"
)

var nutw *wallet.Wallet

func setupWallet(ctx *cli.Context) error {
	cfg, err := wallet.LoadConfig()
	if err != nil {
		printErr(err)
	}
	cfg.AutoInit = true

	nutw, err = wallet.New(context.Background(), cfg)
	if err != nil {
		printErr(err)
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "nutw",
		Usage: "stateless cashu wallet backed by nostr relays",
		Commands: []*cli.Command{
			balanceCmd,
			mintCmd,
			sendCmd,
			receiveCmd,
			payCmd,
			swapMintCmd,
			restoreInfoCmd,
			mintsCmd,
			relaysCmd,
			decodeCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var balanceCmd = &cli.Command{
	Name:   "balance",
	Usage:  "wallet balance, reconstructed from relays",
	Before: setupWallet,
	Action: getBalance,
}

func getBalance(ctx *cli.Context) error {
	balanceByMints := nutw.BalanceByMint()
	fmt.Printf("Balance by mint:\n\n")

	mints := make([]string, 0, len(balanceByMints))
	for mint := range balanceByMints {
		mints = append(mints, mint)
	}
	sort.Strings(mints)

	var total uint64
	for i, mint := range mints {
		fmt.Printf("Mint %v: %v ---- balance: %v sats\n", i+1, mint, balanceByMints[mint])
		total += balanceByMints[mint]
	}

	fmt.Printf("\nTotal balance: %v sats\n", total)
	return nil
}

var receiveCmd = &cli.Command{
	Name:      "receive",
	Usage:     "redeem a serialized token into the wallet",
	ArgsUsage: "[TOKEN]",
	Before:    setupWallet,
	Action:    receive,
}

func receive(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("token not provided"))
	}

	received, err := nutw.Redeem(context.Background(), args.First())
	if err != nil {
		printErr(err)
	}

	fmt.Printf("%v sats received\n", received)
	return nil
}

const invoiceFlag = "invoice"

var mintCmd = &cli.Command{
	Name:      "mint",
	Usage:     "request a mint invoice, or complete minting once it's paid",
	ArgsUsage: "[AMOUNT]",
	Before:    setupWallet,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  invoiceFlag,
			Usage: "quote id of a previously requested, now-paid invoice",
		},
	},
	Action: mint,
}

func mint(ctx *cli.Context) error {
	mintURL := promptMintSelection("mint to")

	if ctx.IsSet(invoiceFlag) {
		quote, err := nutw.LookupMintQuote(context.Background(), ctx.String(invoiceFlag))
		if err != nil {
			printErr(err)
		}
		balance, err := nutw.AwaitMintQuote(context.Background(), quote, 2*time.Second)
		if err != nil {
			printErr(err)
		}
		fmt.Printf("mint complete, new balance: %v sats\n", balance)
		return nil
	}

	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to mint"))
	}
	amount, err := strconv.ParseUint(args.First(), 10, 64)
	if err != nil {
		printErr(errors.New("invalid amount"))
	}

	quote, err := nutw.CreateMintQuote(context.Background(), mintURL, amount)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("invoice: %v\n\n", quote.Invoice)
	fmt.Printf("after paying, run: nutw mint --invoice %v\n", quote.QuoteId)
	return nil
}

var sendCmd = &cli.Command{
	Name:      "send",
	Usage:     "produce a serialized token for the given amount",
	ArgsUsage: "[AMOUNT]",
	Before:    setupWallet,
	Action:    send,
}

func send(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to send"))
	}
	amount, err := strconv.ParseUint(args.First(), 10, 64)
	if err != nil {
		printErr(errors.New("invalid amount"))
	}

	mintURL := promptMintSelection("send from")

	token, err := nutw.Send(context.Background(), mintURL, amount)
	if err != nil {
		printErr(err)
	}

	fmt.Println(token)
	return nil
}

var payCmd = &cli.Command{
	Name:      "pay",
	Usage:     "pay a lightning invoice or lightning address",
	ArgsUsage: "[INVOICE|LIGHTNING_ADDRESS] [AMOUNT_IF_ADDRESS]",
	Before:    setupWallet,
	Action:    pay,
}

func pay(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify a lightning invoice or address to pay"))
	}
	target := args.First()
	mintURL := promptMintSelection("pay from")

	invoice := target
	if looksLikeAddress(target) {
		if args.Len() < 2 {
			printErr(errors.New("specify an amount in sats to send to a lightning address"))
		}
		amount, err := strconv.ParseUint(args.Get(1), 10, 64)
		if err != nil {
			printErr(errors.New("invalid amount"))
		}
		invoice, err = nutw.ResolveLightningAddress(context.Background(), target, amount)
		if err != nil {
			printErr(err)
		}
	}

	preimage, err := nutw.Melt(context.Background(), mintURL, invoice)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("invoice paid, preimage: %v\n", preimage)
	return nil
}

func looksLikeAddress(s string) bool {
	for _, c := range s {
		if c == '@' {
			return true
		}
		if c == ':' {
			return false
		}
	}
	return false
}

var swapMintCmd = &cli.Command{
	Name:      "swap-mint",
	Usage:     "move a balance from one trusted mint to another over lightning",
	ArgsUsage: "[SOURCE_MINT] [DEST_MINT] [AMOUNT]",
	Before:    setupWallet,
	Action:    swapMint,
}

func swapMint(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 3 {
		printErr(errors.New("usage: swap-mint [SOURCE_MINT] [DEST_MINT] [AMOUNT]"))
	}
	amount, err := strconv.ParseUint(args.Get(2), 10, 64)
	if err != nil {
		printErr(errors.New("invalid amount"))
	}

	balance, err := nutw.SwapMint(context.Background(), args.Get(0), args.Get(1), amount)
	var partial *wallet.CrossMintPartial
	if errors.As(err, &partial) {
		fmt.Printf("source mint melt succeeded but destination mint has not completed yet: %v\n", partial.Err)
		fmt.Printf("retry with: nutw mint --invoice %v\n", partial.DestQuote.QuoteId)
		return nil
	}
	if err != nil {
		printErr(err)
	}

	fmt.Printf("swap complete, destination balance: %v sats\n", balance)
	return nil
}

var restoreInfoCmd = &cli.Command{
	Name:   "restore-info",
	Usage:  "reconstruct and print the wallet's state from relays alone",
	Before: setupWallet,
	Action: restoreInfo,
}

func restoreInfo(ctx *cli.Context) error {
	if err := nutw.Refresh(context.Background()); err != nil {
		printErr(err)
	}
	return getBalance(ctx)
}

var mintsCmd = &cli.Command{
	Name:   "mints",
	Usage:  "list trusted mints",
	Before: setupWallet,
	Action: listMints,
}

func listMints(ctx *cli.Context) error {
	mints := nutw.Mints()
	sort.Strings(mints)
	for _, m := range mints {
		fmt.Println(m)
	}
	return nil
}

var relaysCmd = &cli.Command{
	Name:   "relays",
	Usage:  "list connected relays",
	Before: setupWallet,
	Action: listRelays,
}

func listRelays(ctx *cli.Context) error {
	for _, r := range nutw.Relays() {
		fmt.Println(r)
	}
	return nil
}

var decodeCmd = &cli.Command{
	Name:      "decode",
	ArgsUsage: "[TOKEN]",
	Usage:     "decode and print a serialized token",
	Action:    decode,
}

func decode(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("token not provided"))
	}

	token, err := decodeTokenSummary(args.First())
	if err != nil {
		printErr(err)
	}
	fmt.Println(token)
	return nil
}

func decodeTokenSummary(tokenStr string) (string, error) {
	token, err := cashu.DecodeToken(tokenStr)
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func promptMintSelection(action string) string {
	balanceByMints := nutw.BalanceByMint()
	mints := nutw.Mints()
	sort.Strings(mints)

	if len(mints) == 0 {
		printErr(errors.New("no mints configured"))
	}
	if len(mints) == 1 {
		return mints[0]
	}

	fmt.Printf("You have balances in %v mints:\n\n", len(mints))
	for i, mint := range mints {
		fmt.Printf("Mint %v: %v ---- balance: %v sats\n", i+1, mint, balanceByMints[mint])
	}
	fmt.Printf("\nSelect from which mint (1-%v) you wish to %v: ", len(mints), action)

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		log.Fatal("error reading input, please try again")
	}

	num, err := strconv.Atoi(input[:len(input)-1])
	if err != nil {
		printErr(errors.New("invalid number provided"))
	}
	if num <= 0 || num > len(mints) {
		printErr(errors.New("invalid mint selected"))
	}
	return mints[num-1]
}

func printErr(msg error) {
	fmt.Println(msg.Error())
	os.Exit(1)
}
