package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"github.com/UkralStul/campus-sync/internal/config"
	"github.com/UkralStul/campus-sync/internal/domain"
	"github.com/UkralStul/campus-sync/internal/gateway"
	"github.com/UkralStul/campus-sync/internal/media"
	"github.com/UkralStul/campus-sync/internal/mutation"
	"github.com/UkralStul/campus-sync/internal/storage"
	"github.com/UkralStul/campus-sync/internal/storage/inmemory"
	"github.com/UkralStul/campus-sync/internal/storage/mongo"
	"github.com/UkralStul/campus-sync/internal/storage/postgres"
)

const version = "0.1.0"

const usage = `Campus sync server.

Settings come from the environment and .env; flags override them.

Usage:
    server [--storage=<storage>] [--port=<port>] [--v=<level>] [--seed]
    server -h | --help
    server --version

Options:
    -h --help              Show this screen.
    --version              Show version.
    --storage=<storage>    in-memory, mongo or postgres.
    --port=<port>          Listen port.
    --v=<level>            glog verbosity [default: 0].
    --seed                 Fill the store with demo data.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		panic(err)
	}

	level, _ := opts.String("--v")
	flag.Set("logtostderr", "true")
	flag.Set("v", level)
	defer glog.Flush()

	cfg := config.LoadConfig()
	if s, _ := opts.String("--storage"); s != "" {
		cfg.Storage = s
	}
	if p, _ := opts.String("--port"); p != "" {
		if _, err := strconv.Atoi(p); err != nil {
			glog.Fatalf("invalid port %q", p)
		}
		cfg.Port = p
	}

	store, closeStore := openStore(cfg)
	defer closeStore()

	// без настроек облака публикации с вложениями отклоняются
	var uploader media.Uploader
	if cfg.CloudinaryCloud != "" && cfg.CloudinaryPreset != "" {
		uploader = media.NewCloudinary(cfg.CloudinaryCloud, cfg.CloudinaryPreset)
	} else {
		glog.Warningf("cloudinary is not configured, attachments are disabled")
	}
	coord := mutation.New(store, uploader)

	if seed, _ := opts.Bool("--seed"); seed {
		fillWithMockData(coord)
	}
	if cfg.JWTSecret == "" {
		glog.Warningf("JWT_SECRET is empty, every request is anonymous")
	}

	router := gateway.New(store, coord, cfg.JWTSecret).Routes()

	glog.Infof("listening on :%s with %s storage", cfg.Port, cfg.Storage)
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		glog.Fatalf("server failed to start: %v", err)
	}
}

func openStore(cfg config.Config) (storage.Store, func()) {
	switch cfg.Storage {
	case config.StorageInMemory:
		return inmemory.New(), func() {}

	case config.StorageMongo:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := mongo.Open(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			glog.Fatalf("failed to connect to mongo: %v", err)
		}
		return store, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.Close(ctx); err != nil {
				glog.Errorf("close mongo: %v", err)
			}
		}

	case config.StoragePostgres:
		if cfg.PostgresDSN == "" {
			glog.Fatalf("DATABASE_URL must be set for postgres storage")
		}
		store, err := postgres.New(cfg.PostgresDSN)
		if err != nil {
			glog.Fatalf("failed to connect to postgres: %v", err)
		}
		return store, func() {
			if err := store.Close(); err != nil {
				glog.Errorf("close postgres: %v", err)
			}
		}
	}
	glog.Fatalf("unknown storage %q", cfg.Storage)
	return nil, nil
}

// fillWithMockData создаёт демо-данные через координатор, как это сделал бы клиент.
func fillWithMockData(c *mutation.Coordinator) {
	ctx := context.Background()
	owner := domain.Actor{ID: "user-1", DisplayName: "Анна", Email: "anna@campus.edu"}
	student := domain.Actor{ID: "user-2", Email: "boris@campus.edu"}

	must := func(what string, err error) {
		if err != nil {
			glog.Fatalf("fillWithMockData: %s: %v", what, err)
		}
	}

	// 1. Сообщество с закрытыми для участников публикациями.
	communityID, err := c.CreateCommunity(ctx, owner, mutation.NewCommunity{
		Name:        "Robotics",
		Description: "Собираем роботов по четвергам",
	})
	must("create community", err)
	community := domain.Community{
		ID:      communityID,
		OwnerID: owner.ID,
		Members: domain.NewSet(owner.ID),
	}
	must("join", c.Join(ctx, student, community))

	// 2. Событие сообщества и пост в общей ленте.
	_, err = c.CreatePost(ctx, owner, mutation.NewPost{
		Text:      "Встреча в лаборатории 204, четверг 18:00",
		Kind:      domain.KindEvent,
		Community: &community,
	})
	must("create event", err)

	postID, err := c.CreatePost(ctx, student, mutation.NewPost{Text: "Кто идёт на хакатон?"})
	must("create post", err)
	_, err = c.AddComment(ctx, owner, postID, "Я иду!")
	must("add comment", err)
	must("like", c.ToggleLike(ctx, owner, postID, false))

	// 3. Чат, вакансия и отзыв о собеседовании.
	_, err = c.SendMessage(ctx, student, "Всем привет!")
	must("send message", err)
	_, err = c.AddOpportunity(ctx, owner, domain.CareerOpportunity{
		CompanyName: "Acme Robotics",
		Role:        "Intern",
		ApplyLink:   "https://example.com/apply",
	})
	must("add opportunity", err)
	_, err = c.AddExperience(ctx, student, domain.InterviewExperience{
		CompanyName: "Acme Robotics",
		Difficulty:  domain.DifficultyMedium,
		Rounds:      []string{"HR", "Tech"},
		Content:     "Спрашивали про ПИД-регуляторы.",
	})
	must("add experience", err)

	glog.Infof("Mock data filled successfully. Community ID: %s, post ID: %s", communityID, postID)
}
