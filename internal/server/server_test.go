package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	onvif "github.com/SridarDhandapani/onvifd"
	"github.com/SridarDhandapani/onvifd/internal/config"
	"github.com/SridarDhandapani/onvifd/internal/services"
)

func testConfig() *config.Config {
	debounce := 10

	return &config.Config{
		ServicePort: 8081,
		Username:    "admin",
		Password:    "secret",
		DeviceInformation: config.DeviceInformation{
			Manufacturer:    "Acme",
			Model:           "IO-4",
			FirmwareVersion: "1.0.0",
			SerialNumber:    "SN42",
			HardwareID:      "HW1",
		},
		AlarmInputs: []config.AlarmInput{
			{ID: "input1", DebounceMs: &debounce},
			{ID: "input2", DebounceMs: &debounce},
		},
		SubscriptionTTL: time.Minute,
		MaxQueueLength:  50,
		PushTimeout:     time.Second,
		RelayOutputs:    2,
	}
}

func startServer(t *testing.T, cfg *config.Config) (*Server, *onvif.Device) {
	t.Helper()

	srv, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))

	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		assert.NoError(t, srv.Stop(ctx))
	})

	return srv, onvif.NewDevice(ts.URL + services.DevicePath)
}

func TestAlarmTransitionReachesPullSubscriber(t *testing.T) {
	srv, device := startServer(t, testConfig())
	client := onvif.NewClient("admin", "secret")
	ctx := context.Background()

	sub, err := client.CreatePullPointSubscription(ctx, device, onvif.SubscriptionOptions{InitialTermination: "PT1M"})
	require.NoError(t, err)
	assert.InDelta(t, time.Minute.Seconds(), sub.TerminationTime.Sub(sub.CurrentTime).Seconds(), 0.01)

	require.NoError(t, srv.Monitor().Simulate("input1", true))

	result, err := client.PullMessages(ctx, sub, 5*time.Second, 0)
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)

	msg := result.Messages[0]
	assert.Equal(t, onvif.TopicDigitalInput, msg.Topic)
	assert.Equal(t, "input1", msg.Source["InputToken"])
	assert.Equal(t, "true", msg.Data["LogicalState"])
	assert.Equal(t, "Changed", msg.PropertyOperation)
}

func TestAuthentication(t *testing.T) {
	_, device := startServer(t, testConfig())
	ctx := context.Background()

	bad := onvif.NewClient("admin", "wrong")

	err := bad.GetDeviceInformation(ctx, device)
	require.Error(t, err)

	var fault *onvif.Fault
	require.True(t, errors.As(err, &fault), err)
	assert.True(t, fault.NotAuthorized())
	assert.Equal(t, http.StatusBadRequest, fault.StatusCode)

	// The clock can be read without credentials.
	require.NoError(t, bad.GetSystemDateAndTime(ctx, device))
	assert.WithinDuration(t, time.Now().UTC(), device.DateTime, 5*time.Second)

	good := onvif.NewClient("admin", "secret")
	require.NoError(t, good.GetDeviceInformation(ctx, device))
	assert.Equal(t, "Acme", device.Manufacturer)
	assert.Equal(t, "IO-4", device.DeviceModel)
	assert.Equal(t, "SN42", device.SerialNumber)
	assert.Equal(t, "Acme IO-4", device.GetDisplayName())
}

func TestReplayGuardAdmitsFreshNonces(t *testing.T) {
	cfg := testConfig()
	cfg.RejectReplayedNonces = true

	_, device := startServer(t, cfg)
	client := onvif.NewClient("admin", "secret")

	// Every client request carries a fresh nonce.
	for i := 0; i < 3; i++ {
		require.NoError(t, client.GetDeviceInformation(context.Background(), device))
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	_, device := startServer(t, testConfig())
	client := onvif.NewClient("admin", "secret")
	ctx := context.Background()

	sub, err := client.CreatePullPointSubscription(ctx, device, onvif.SubscriptionOptions{
		Topics:             onvif.TopicRelay,
		InitialTermination: "PT10S",
	})
	require.NoError(t, err)

	before := sub.TerminationTime
	require.NoError(t, client.Renew(ctx, sub, "PT5M"))
	assert.True(t, sub.TerminationTime.After(before))

	require.NoError(t, client.SetSynchronizationPoint(ctx, sub))
	require.NoError(t, client.Unsubscribe(ctx, sub))

	_, err = client.PullMessages(ctx, sub, time.Second, 0)

	var fault *onvif.Fault
	require.True(t, errors.As(err, &fault), err)
	assert.True(t, fault.UnknownSubscription())
}

func TestRelayControlRaisesEvent(t *testing.T) {
	srv, device := startServer(t, testConfig())
	client := onvif.NewClient("admin", "secret")
	ctx := context.Background()

	sub, err := client.CreatePullPointSubscription(ctx, device, onvif.SubscriptionOptions{Topics: onvif.TopicRelay})
	require.NoError(t, err)

	outputs, err := client.GetRelayOutputs(ctx, device)
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	assert.Equal(t, "Relay1", outputs[1].Token)

	require.NoError(t, client.SetRelayOutputState(ctx, device, "Relay1", true))
	assert.True(t, srv.Relays().List()[1].Active)

	// Motion does not match the relay filter.
	srv.router.MotionChanged(services.MotionSource, true)

	result, err := client.PullMessages(ctx, sub, time.Second, 0)
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, onvif.TopicRelay, result.Messages[0].Topic)
	assert.Equal(t, "Relay1", result.Messages[0].Source["RelayToken"])

	inputs, err := client.GetDigitalInputs(ctx, device)
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.Equal(t, "input1", inputs[0].Token)
}

type recorder struct {
	mu     sync.Mutex
	topics []string
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)

	doc := etree.NewDocument()
	if doc.ReadFromBytes(body) != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, el := range doc.FindElements("//Notify/NotificationMessage/Topic") {
		r.topics = append(r.topics, el.Text())
	}
}

func (r *recorder) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.topics...)
}

func TestPushSubscription(t *testing.T) {
	srv, device := startServer(t, testConfig())
	client := onvif.NewClient("admin", "secret")
	ctx := context.Background()

	rec := &recorder{}
	consumer := httptest.NewServer(rec)
	t.Cleanup(consumer.Close)

	sub, err := client.Subscribe(ctx, device, consumer.URL+"/notify", onvif.SubscriptionOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, sub.Reference)

	require.NoError(t, srv.Monitor().Simulate("input2", true))

	require.Eventually(t, func() bool { return len(rec.received()) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{onvif.TopicDigitalInput}, rec.received())

	_, err = client.PullMessages(ctx, sub, time.Second, 0)

	var fault *onvif.Fault
	require.True(t, errors.As(err, &fault), err)
	assert.Contains(t, fault.Subcode, "ActionNotSupported")
}

func TestDebugStatus(t *testing.T) {
	srv, device := startServer(t, testConfig())

	base := strings.TrimSuffix(device.Address, services.DevicePath)

	resp, err := http.Post(base+"/api/io/output/0/on", "", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, srv.Relays().List()[0].Active)
}
