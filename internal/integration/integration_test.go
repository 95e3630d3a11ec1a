package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	pgloader "quizroom-service/internal/infra/postgres"
	pgmigrations "quizroom-service/internal/infra/postgres/migrations"
	infraredis "quizroom-service/internal/infra/redis"
)

func TestRoomLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedBank(t, ctx, pgURL, sampleBank())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pgloader.NewBankLoader(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	banks := infraredis.NewBankRepository(redisClient, loader, 5*time.Minute)
	rooms := infraredis.NewRoomStore(redisClient, 5*time.Minute)

	clock := clockwork.NewFakeClock()
	service := app.NewRoomService(rooms, banks, app.Options{
		Clock:        clock,
		TickInterval: time.Second,
	})
	defer service.Close()

	host := domain.Identity{ID: "u1", Name: "Alice", Scope: "school-1"}
	state, err := service.CreateRoom(ctx, host, app.RoomSpec{
		BankID:          "bank-1",
		TimePerQuestion: 20,
		ScopeID:         "school-1",
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	code := state.Code

	guest := domain.Identity{ID: "u2", Name: "Bob", Scope: "school-1"}
	if _, _, err := service.Join(ctx, code, guest); err != nil {
		t.Fatalf("join: %v", err)
	}

	events, cancel, err := service.Subscribe(ctx, code)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	drainInitial(t, events)

	if _, err := service.Start(ctx, code, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Run the countdown down to the playing phase.
	for {
		st := advanceTick(t, clock, events)
		if st.Status == domain.StatusPlaying {
			break
		}
		if st.Status != domain.StatusCountdown {
			t.Fatalf("unexpected status during countdown: %s", st.Status)
		}
	}

	res, err := service.SubmitAnswer(ctx, code, "u2", "b")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Correct || res.Awarded != 100 {
		t.Fatalf("expected full-window correct answer worth 100, got %+v", res)
	}

	if _, err := service.SubmitAnswer(ctx, code, "u2", "b"); err != domain.ErrAlreadyAnswered {
		t.Fatalf("expected ErrAlreadyAnswered on repeat, got %v", err)
	}

	// The answered-once marker and the mirrored state must be visible in Redis.
	answered, err := redisClient.SMembers(ctx, "room:"+code+":answered").Result()
	if err != nil {
		t.Fatalf("smembers: %v", err)
	}
	if len(answered) != 1 || answered[0] != "u2:0" {
		t.Fatalf("expected one answered marker u2:0, got %v", answered)
	}
	status, err := redisClient.HGet(ctx, "room:"+code+":state", "status").Result()
	if err != nil {
		t.Fatalf("hget status: %v", err)
	}
	if status != string(domain.StatusPlaying) {
		t.Fatalf("expected mirrored status playing, got %q", status)
	}

	board, err := service.Scoreboard(code)
	if err != nil {
		t.Fatalf("scoreboard: %v", err)
	}
	if len(board) != 2 || board[0].ParticipantID != "u2" || board[0].Score != 100 {
		t.Fatalf("expected bob leading with 100, got %+v", board)
	}
}

// advanceTick fires the next armed timer and returns the resulting state event.
func advanceTick(t *testing.T, clock *clockwork.FakeClock, events <-chan domain.RoomEvent) domain.RoomState {
	t.Helper()
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == domain.EventState && ev.State != nil {
				return *ev.State
			}
		case <-deadline:
			t.Fatal("timed out waiting for state event")
		}
	}
}

// drainInitial consumes the snapshot events delivered on subscription.
func drainInitial(t *testing.T, events <-chan domain.RoomEvent) {
	t.Helper()
	for i := 0; i < 2; i++ {
		select {
		case <-events:
		case <-time.After(time.Second):
			t.Fatal("missing initial subscription event")
		}
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedBank(t *testing.T, ctx context.Context, dsn string, bank domain.QuestionBank) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(bank)
	if err != nil {
		t.Fatalf("marshal bank: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO question_banks (id, data) VALUES (? , ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, bank.ID, string(data)); err != nil {
		t.Fatalf("insert bank: %v", err)
	}
}

func sampleBank() domain.QuestionBank {
	return domain.QuestionBank{
		ID:      "bank-1",
		Subject: "math",
		Grade:   "3",
		Questions: []domain.BankQuestion{
			{
				Text: "What is 2 + 2?",
				Choices: []domain.Choice{
					{ID: "a", Text: "3"},
					{ID: "b", Text: "4"},
					{ID: "c", Text: "5"},
				},
				Correct: "b",
			},
			{
				Text: "What is 3 x 3?",
				Choices: []domain.Choice{
					{ID: "a", Text: "6"},
					{ID: "b", Text: "9"},
					{ID: "c", Text: "12"},
				},
				Correct: "b",
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
