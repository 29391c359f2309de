package system

import (
	"context"

	"github.com/julianstephens/wayfare/internal/cli"
	"github.com/julianstephens/wayfare/internal/notifier"
)

type NotifyCmd struct {
	Text   string `arg:"" help:"Notification text."`
	DryRun bool   `help:"Print the notification instead of sending it."`
}

func (c *NotifyCmd) Run(ctx *cli.Context) error {
	if c.DryRun {
		ctx.Println("[DryRun] " + c.Text)
		return nil
	}
	return notifier.New().Notify(context.Background(), c.Text)
}
