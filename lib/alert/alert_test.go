package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"testing"

	"docharvest/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type failing struct{}

func (failing) Notify(ctx context.Context, alert Alert) error {
	return errors.New("unreachable")
}

type recorder struct {
	alerts []Alert
}

func (r *recorder) Notify(ctx context.Context, alert Alert) error {
	r.alerts = append(r.alerts, alert)
	return nil
}

func TestLog(t *testing.T) {
	buff := &bytes.Buffer{}
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(buff, nil)))
	defer slog.SetDefault(previous)

	err := Log{}.Notify(context.Background(), Alert{
		Subject: "no credentials",
		Message: "harvest job cannot run",
		Attrs:   []slog.Attr{slog.String("source", "twitter_timeline")},
	})
	require.NoError(t, err)
	require.Contains(t, buff.String(), "level=ERROR")
	require.Contains(t, buff.String(), `msg="harvest job cannot run"`)
	require.Contains(t, buff.String(), `subject="no credentials"`)
	require.Contains(t, buff.String(), "source=twitter_timeline")
}

func TestMulti(t *testing.T) {
	rec := &recorder{}
	err := Multi{failing{}, rec}.Notify(context.Background(), Alert{Subject: "test"})
	require.ErrorContains(t, err, "unreachable")
	require.Len(t, rec.alerts, 1)

	require.NoError(t, Multi{}.Notify(context.Background(), Alert{}))
}

func TestEmailEnabled(t *testing.T) {
	require.False(t, EmailConfig{}.Enabled())
	require.False(t, EmailConfig{Server: "localhost"}.Enabled())
	require.True(t, EmailConfig{Server: "localhost", Recipients: []string{"ops@email.com"}}.Enabled())
}

func TestEmail(t *testing.T) {
	testcontainers.SkipIfProviderIsNotHealthy(t)

	cleanup := telemetry.SetupForTesting(t, "test:alert")
	defer cleanup()

	// suppress logging
	testcontainers.Logger = log.New(io.Discard, "", 0)

	ctx := context.Background()
	smtp, err := testcontainers.GenericContainer(
		ctx,
		testcontainers.GenericContainerRequest{
			Started: true,
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "haravich/fake-smtp-server",
				ExposedPorts: []string{"1025/tcp", "1080/tcp"},
				WaitingFor:   wait.ForLog("smtp://0.0.0.0:1025"),
			},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		err := smtp.Terminate(context.Background())
		if err != nil {
			t.Fatal(err)
		}
	}()

	host, err := smtp.Host(ctx)
	require.NoError(t, err)
	smtpPort, err := smtp.MappedPort(ctx, "1025/tcp")
	require.NoError(t, err)
	webPort, err := smtp.MappedPort(ctx, "1080/tcp")
	require.NoError(t, err)

	notifier := NewEmail(EmailConfig{
		Server:       host,
		Port:         smtpPort.Int(),
		EmailAddress: "alice@email.com",
		Recipients:   []string{"ops@email.com"},
	})
	err = notifier.Notify(ctx, Alert{
		Subject: "no credentials",
		Message: "harvest job cannot run",
		Attrs:   []slog.Attr{slog.String("source", "twitter_timeline")},
	})
	require.NoError(t, err)

	res, err := resty.New().R().
		Get(fmt.Sprintf("http://%s:%s/messages/1.plain", host, webPort.Port()))
	require.NoError(t, err)
	require.Contains(t, res.String(), "harvest job cannot run")
	require.Contains(t, res.String(), "source: twitter_timeline")
}
