package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sttts/kw/internal/app"
)

// Run attaches the terminal view to a and runs both until the user quits or
// ctx is done.
func Run(ctx context.Context, a *app.App) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	m := NewModel(ctx, a)
	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithoutSignalHandler(), // signals cancel ctx
	)
	a.Attach(m, NewRenderer(p.Send))

	g.Go(func() error { return a.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		p.Quit()
		return nil
	})
	g.Go(func() error {
		defer cancel()
		_, err := p.Run()
		return err
	})
	return g.Wait()
}
