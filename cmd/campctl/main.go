package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/campwars/client-go/internal/api"
	"github.com/campwars/client-go/internal/config"
	"github.com/campwars/client-go/internal/fetch"
	"github.com/campwars/client-go/internal/push"
	"github.com/campwars/client-go/internal/session"
	"github.com/campwars/client-go/internal/view"
	"github.com/campwars/client-go/pkg/types"
)

const usage = `campctl - command line client for the camp game.

Usage:
  campctl login <username>
  campctl logout
  campctl watch
  campctl spin
  campctl buy <country-id>
  campctl use-card <card-id>
  campctl promo <code>
  campctl read-all
  campctl admin promo <code> <reward>
  campctl admin grant <user-id> <card-name> <card-type>
  campctl admin score <team-id> <delta>
  campctl admin coins <team-id> <delta>
  campctl -h | --help

Options:
  -h --help  Show this screen.
`

const pollInterval = 30 * time.Second

type app struct {
	cfg   *config.Config
	log   *zap.Logger
	api   *api.Client
	store *session.Store
}

func main() {
	opts, err := docopt.ParseDoc(usage)
	if err != nil {
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	fetchClient := fetch.New(cfg.BaseURL, fetch.Options{
		Constrained: cfg.Constrained,
		Logger:      logger,
	})
	apiClient := api.New(fetchClient)
	settings := session.DefaultSettings()
	settings.CacheDir = cfg.CacheDir
	store := session.NewStore(apiClient, logger, settings)
	fetchClient.SetTokenSource(store.Token)

	// restore the bearer fallback so separate invocations share a session
	if cached := store.CachedIdentity(); cached != nil && cached.Token != "" {
		store.SetFallbackToken(cached.Token)
	}

	a := &app{cfg: cfg, log: logger, api: apiClient, store: store}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.run(ctx, opts); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, opts docopt.Opts) error {
	switch {
	case is(opts, "login"):
		username, _ := opts.String("<username>")
		return a.login(ctx, username)
	case is(opts, "logout"):
		a.store.Logout(ctx)
		fmt.Println("logged out")
		return nil
	case is(opts, "watch"):
		return a.watch(ctx)
	case is(opts, "spin"):
		return a.spin(ctx)
	case is(opts, "buy"):
		id, _ := opts.String("<country-id>")
		return a.buy(ctx, id)
	case is(opts, "use-card"):
		id, _ := opts.String("<card-id>")
		return a.requireSession(ctx, func() error { return a.api.UseCard(ctx, id) })
	case is(opts, "promo"):
		if is(opts, "admin") {
			return a.adminPromo(ctx, opts)
		}
		code, _ := opts.String("<code>")
		return a.promo(ctx, code)
	case is(opts, "read-all"):
		return a.requireSession(ctx, func() error { return a.api.MarkAllRead(ctx) })
	case is(opts, "admin"):
		return a.admin(ctx, opts)
	}
	return errors.New("unknown command")
}

func (a *app) login(ctx context.Context, username string) error {
	fmt.Print("password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return err
	}

	if err := a.store.Login(ctx, username, string(password)); err != nil {
		switch {
		case errors.Is(err, session.ErrLocked):
			return err
		case errors.Is(err, session.ErrInvalidCredentials):
			return errors.New("invalid username or password")
		}
		return err
	}

	identity, _ := a.store.Current()
	fmt.Printf("welcome %s (%s)\n", identity.Name, identity.Role)
	return nil
}

// requireSession runs fn after the eager startup session check. A network
// failure during the check is transient and does not block the call. An auth
// or permission rejection of the call itself drops the session.
func (a *app) requireSession(ctx context.Context, fn func() error) error {
	if err := a.checkSession(ctx); err != nil {
		return err
	}
	if err := fn(); err != nil {
		a.store.OnRequestError(err)
		return err
	}
	return nil
}

func (a *app) checkSession(ctx context.Context) error {
	if cached := a.store.CachedIdentity(); cached != nil {
		fmt.Printf("hello %s\n", cached.Name)
	}
	if err := a.store.CheckSession(ctx); err != nil {
		switch fetch.KindOf(err) {
		case fetch.KindAuth, fetch.KindPermission:
			return errors.New("session expired, run: campctl login <username>")
		default:
			a.log.Warn("session check failed, continuing with cached state", zap.Error(err))
		}
	}
	if _, ok := a.store.Current(); !ok {
		return errors.New("not logged in, run: campctl login <username>")
	}
	return nil
}

func (a *app) watch(ctx context.Context) error {
	if err := a.checkSession(ctx); err != nil {
		return err
	}

	mgr := push.NewManager(ctx, a.cfg.SocketURL, a.log)
	defer mgr.Close()

	scoreboard := view.NewScoreboard(ctx, a.api, a.log)
	countries := view.NewCountries(ctx, a.api, a.log)
	inventory := view.NewInventory(ctx, a.api, a.store.UserID, a.log)
	notifications := view.NewNotifications(ctx, a.api, a.store.UserID, a.log)
	defer func() {
		scoreboard.Close()
		countries.Close()
		inventory.Close()
		notifications.Close()
	}()

	g, loadCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return scoreboard.Load(loadCtx) })
	g.Go(func() error { return countries.Load(loadCtx) })
	g.Go(func() error { return inventory.Load(loadCtx) })
	g.Go(func() error { return notifications.Load(loadCtx) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("initial load: %w", err)
	}

	// push deltas can drop frames; periodic re-fetch keeps the snapshots
	// converging through the same idempotent merge path
	go scoreboard.Poll(ctx, pollInterval)
	go countries.Poll(ctx, pollInterval)
	go inventory.Poll(ctx, pollInterval)
	go notifications.Poll(ctx, pollInterval)

	for _, t := range scoreboard.Standings() {
		fmt.Printf("%-20s score=%d coins=%d\n", t.Name, t.Score, t.Currency)
	}
	fmt.Printf("cards=%d unread=%d mining=%d/h\n",
		len(inventory.Cards()), notifications.Unread(), countries.MiningRate(a.store.UserID()))

	var unbinds []func()
	unbinds = append(unbinds,
		scoreboard.Bind(mgr),
		countries.Bind(mgr),
		inventory.Bind(mgr),
		notifications.Bind(mgr),
		scoreboard.Subscribe(printBatch),
		inventory.Subscribe(printBatch),
		notifications.Subscribe(printBatch),
		countries.Subscribe(func(b view.Batch) {
			printBatch(b)
			if len(b.Changes) > 0 {
				// recompute off the model loop; callbacks must not call back in
				go func() {
					fmt.Printf("  mining rate now %d/h\n", countries.MiningRate(a.store.UserID()))
				}()
			}
		}),
		mgr.OnStatus(func(st push.Status) {
			if st.Connected {
				fmt.Println("* live updates connected")
			} else {
				fmt.Println("* live updates disconnected")
			}
		}),
	)
	for _, m := range []interface {
		SubscribeErrors(func(error)) func()
	}{scoreboard, countries, inventory, notifications} {
		unbinds = append(unbinds, m.SubscribeErrors(func(err error) {
			switch kind := fetch.KindOf(err); kind {
			case fetch.KindAuth, fetch.KindPermission:
				a.store.OnRequestError(err)
				fmt.Println("! session expired, run: campctl login <username>")
			default:
				fmt.Printf("! refresh failed (%s), showing last known data\n", kind)
			}
		}))
	}
	defer func() {
		for _, unbind := range unbinds {
			unbind()
		}
	}()

	// user-update means our own identity changed server-side
	unsubUser := mgr.Subscribe(types.EventUserUpdate, func(msg types.PushMessage) {
		go func() { _ = a.store.CheckSession(ctx) }()
	})
	defer unsubUser()

	mgr.Connect(a.store.UserID())
	<-ctx.Done()
	mgr.Disconnect()
	return nil
}

func (a *app) spin(ctx context.Context) error {
	return a.requireSession(ctx, func() error {
		res, err := a.api.Spin(ctx)
		if err != nil {
			return err
		}
		if res.Card != nil {
			fmt.Printf("you won: %s [%s] %s\n", res.Card.Name, res.Card.Kind(), res.Card.Effect)
		} else {
			fmt.Println(res.Message)
		}
		return nil
	})
}

func (a *app) buy(ctx context.Context, countryID string) error {
	return a.requireSession(ctx, func() error {
		country, err := a.api.BuyCountry(ctx, countryID)
		if err != nil {
			return err
		}
		fmt.Printf("bought %s, yields %d/h\n", country.Name, country.YieldPerHour)
		return nil
	})
}

func (a *app) promo(ctx context.Context, code string) error {
	return a.requireSession(ctx, func() error {
		res, err := a.api.ValidatePromo(ctx, code)
		if err != nil {
			return err
		}
		if res.Valid {
			fmt.Printf("promo accepted, reward %d\n", res.Reward)
		} else {
			fmt.Println("promo rejected:", res.Message)
		}
		return nil
	})
}

func (a *app) admin(ctx context.Context, opts docopt.Opts) error {
	switch {
	case is(opts, "grant"):
		userID, _ := opts.String("<user-id>")
		cardName, _ := opts.String("<card-name>")
		cardType, _ := opts.String("<card-type>")
		return a.requireSession(ctx, func() error {
			return a.api.AdminGrantCard(ctx, userID, cardName, types.CardType(cardType))
		})
	case is(opts, "score"):
		return a.adminAdjust(ctx, opts, a.api.AdminAdjustScore)
	case is(opts, "coins"):
		return a.adminAdjust(ctx, opts, a.api.AdminAdjustCoins)
	}
	return errors.New("unknown admin command")
}

func (a *app) adminPromo(ctx context.Context, opts docopt.Opts) error {
	code, _ := opts.String("<code>")
	rewardStr, _ := opts.String("<reward>")
	reward, err := strconv.ParseInt(rewardStr, 10, 64)
	if err != nil {
		return fmt.Errorf("reward must be a number: %w", err)
	}
	return a.requireSession(ctx, func() error {
		return a.api.AdminCreatePromo(ctx, code, reward)
	})
}

func (a *app) adminAdjust(ctx context.Context, opts docopt.Opts, call func(context.Context, string, int64) error) error {
	teamID, _ := opts.String("<team-id>")
	deltaStr, _ := opts.String("<delta>")
	delta, err := strconv.ParseInt(deltaStr, 10, 64)
	if err != nil {
		return fmt.Errorf("delta must be a number: %w", err)
	}
	return a.requireSession(ctx, func() error {
		return call(ctx, teamID, delta)
	})
}

func printBatch(b view.Batch) {
	for _, c := range b.Changes {
		switch c.Kind {
		case view.ChangeField:
			fmt.Printf("[%s] %s %s %+d\n", b.View, c.EntityID, c.Field, c.Delta)
		case view.ChangeAdded:
			fmt.Printf("[%s] + %s\n", b.View, c.EntityID)
		case view.ChangeRemoved:
			fmt.Printf("[%s] - %s\n", b.View, c.EntityID)
		case view.ChangeTransferred:
			from := c.From
			if from == "" {
				from = "nobody"
			}
			fmt.Printf("[%s] %s owner %s -> %s\n", b.View, c.EntityID, from, c.To)
		}
	}
}

func is(opts docopt.Opts, cmd string) bool {
	v, _ := opts.Bool(cmd)
	return v
}

func newLogger(level string) *zap.Logger {
	if level == "debug" {
		l, _ := zap.NewDevelopment()
		return l
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	l, _ := cfg.Build()
	return l
}
