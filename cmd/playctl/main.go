// cmd/playctl is a command-line client for the PencilParty API.
//
//	playctl login -openid wx-123 -nickname Ann
//	playctl play -game gomoku -score 150 -result win -accuracy 0.95
//	playctl leaderboard -game gomoku
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/joho/godotenv/autoload"
	"github.com/pencilparty/pencilparty/internal/client"
	"github.com/pencilparty/pencilparty/internal/config"
	"github.com/pencilparty/pencilparty/internal/models"
	"github.com/sirupsen/logrus"
)

const usage = `usage: playctl <command> [flags]

commands:
  login        -openid ID [-nickname NAME] [-avatar URL]
  logout
  me
  types
  popular      [-limit N]
  start        -game TYPE [-room ID]
  finish       -id GAME_ID [-score N] [-duration SECONDS] [-result win|lose|draw] [-accuracy 0..1] [-combo N]
  play         -game TYPE [-score N] [-duration SECONDS] [-result win|lose|draw] [-accuracy 0..1] [-combo N]
  records      [-game TYPE] [-limit N] [-offset N]
  stats        [-game TYPE]
  leaderboard  [-game TYPE|all] [-rank TYPE] [-limit N]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if os.Getenv("PLAY_DEBUG") != "" {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	var tokens client.TokenStore = client.NewMemoryTokens()
	if cfg.TokenFile != "" {
		tokens = client.NewFileTokens(cfg.TokenFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		tokens = client.NewFileTokens(filepath.Join(home, ".pencilparty", "session.json"))
	}

	c := client.New(client.Options{
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Timeout,
		RetryTimes: cfg.RetryTimes,
		RetryDelay: cfg.RetryDelay,
		Platform:   "cli",
		Tokens:     tokens,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := dispatch(ctx, c, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, c *client.Client, cmd string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	var (
		openID   = fs.String("openid", "", "external account id")
		nickname = fs.String("nickname", "", "display name")
		avatar   = fs.String("avatar", "", "avatar url")
		gameType = fs.String("game", "", "game type code")
		room     = fs.String("room", "", "room id")
		gameID   = fs.String("id", "", "game record id")
		score    = fs.Int64("score", 0, "final score")
		duration = fs.Int64("duration", 0, "play time in seconds")
		result   = fs.String("result", "", "win, lose or draw")
		accuracy = fs.Float64("accuracy", 0, "accuracy between 0 and 1")
		combo    = fs.Int("combo", 0, "longest combo")
		rankType = fs.String("rank", "", "rank type")
		limit    = fs.Int("limit", 0, "page size")
		offset   = fs.Int("offset", 0, "page offset")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	finish := func(id uuid.UUID) (*client.Settlement, error) {
		return c.FinishGame(ctx, client.FinishRequest{
			GameID:   id,
			Score:    *score,
			Duration: *duration,
			Result:   models.Result(*result),
			Accuracy: *accuracy,
			ComboMax: *combo,
		})
	}

	var (
		v   interface{}
		err error
	)
	switch cmd {
	case "login":
		if *openID == "" {
			return fmt.Errorf("-openid is required")
		}
		v, err = c.Login(ctx, client.LoginRequest{OpenID: *openID, Nickname: *nickname, Avatar: *avatar})
	case "logout":
		err = c.Logout(ctx)
		v = map[string]bool{"logged_out": err == nil}
	case "me":
		v, err = c.Me(ctx)
	case "types":
		v, err = c.GameTypes(ctx)
	case "popular":
		v, err = c.PopularGames(ctx, *limit)
	case "start":
		var roomID *string
		if *room != "" {
			roomID = room
		}
		v, err = c.StartGame(ctx, *gameType, roomID)
	case "finish":
		id, perr := uuid.Parse(*gameID)
		if perr != nil {
			return fmt.Errorf("-id: %w", perr)
		}
		v, err = finish(id)
	case "play":
		started, serr := c.StartGame(ctx, *gameType, nil)
		if serr != nil {
			return serr
		}
		if *duration == 0 {
			// server and local clocks may disagree
			if d := time.Since(started.StartedAt); d > 0 {
				*duration = int64(d.Seconds())
			}
		}
		v, err = finish(started.GameID)
	case "records":
		v, err = c.Records(ctx, *gameType, *limit, *offset)
	case "stats":
		v, err = c.Stats(ctx, *gameType)
	case "leaderboard":
		v, err = c.Leaderboard(ctx, client.LeaderboardQuery{GameType: *gameType, RankType: *rankType, Limit: *limit})
	default:
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
