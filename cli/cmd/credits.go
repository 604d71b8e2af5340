package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/arfor/cli/render"
	"github.com/pithecene-io/arfor/client"
	"github.com/pithecene-io/arfor/credits"
)

// CheckoutOutput is rendered by credits --buy.
type CheckoutOutput struct {
	PackID      string `json:"pack_id"`
	CheckoutURL string `json:"checkout_url"`
}

// CreditsCommand returns the credits command.
func CreditsCommand() *cli.Command {
	return &cli.Command{
		Name:  "credits",
		Usage: "Show the credit balance, list packs, or follow a purchase",
		Flags: append(OutputFlags(),
			&cli.BoolFlag{
				Name:  "packs",
				Usage: "List purchasable credit packs",
			},
			&cli.StringFlag{
				Name:  "buy",
				Usage: "Start a checkout for `PACK` and print its URL",
			},
			&cli.StringFlag{
				Name:  "await-purchase",
				Usage: "Poll the balance after returning from checkout at `URL`",
			},
		),
		Action: creditsAction,
	}
}

func creditsAction(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case c.Bool("packs"):
		packs, err := e.api.CreditPacks(ctx)
		if err != nil {
			return apiFailure("list credit packs", err)
		}
		return r.Render(packs)

	case c.String("buy") != "":
		url, err := e.api.CreateCheckoutSession(ctx, c.String("buy"))
		if err != nil {
			return apiFailure("start checkout", err)
		}
		return r.Render(CheckoutOutput{PackID: c.String("buy"), CheckoutURL: url})

	case c.IsSet("await-purchase"):
		if !credits.IsCheckoutReturn(c.String("await-purchase")) {
			return cli.Exit("--await-purchase URL is not a successful checkout return", exitUsage)
		}
		ctrl, err := e.newController(ctx)
		if err != nil {
			return cli.Exit(err.Error(), exitUsage)
		}
		defer func() { _ = ctrl.Close() }()

		poller, err := credits.NewPoller(credits.Config{
			Refresher: ctrl.CreditSource(),
			Schedule:  e.cfg.Credits.ScheduleDurations(),
			Jitter:    e.cfg.Credits.Jitter.Duration,
			Logger:    e.logger,
			Metrics:   e.metrics,
		})
		if err != nil {
			return cli.Exit(err.Error(), exitUsage)
		}
		result, err := poller.Run(ctx)
		if err != nil {
			return cli.Exit(fmt.Sprintf("credit poll: %v", err), exitCanceled)
		}
		return r.Render(result)

	default:
		profile, err := e.api.Profile(ctx)
		if err != nil {
			return apiFailure("fetch profile", err)
		}
		return r.Render(profile)
	}
}

// apiFailure maps an API error to an exit error with the user-facing text.
func apiFailure(action string, err error) error {
	return cli.Exit(fmt.Sprintf("%s: %s", action, client.UserMessage(err, err.Error())), exitError)
}
