package publish

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/csi.report/internal/csi/estimate"
	"github.com/banshee-data/csi.report/internal/monitoring"
)

type mockToken struct {
	err  error
	done chan struct{}
}

func newMockToken(err error) *mockToken {
	t := &mockToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *mockToken) Wait() bool                     { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool { return true }
func (t *mockToken) Done() <-chan struct{}          { return t.done }
func (t *mockToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type mockClient struct {
	mu           sync.Mutex
	connected    bool
	publishErr   error
	messages     []published
	disconnected bool
}

func (c *mockClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic, qos, retained, payload.([]byte)})
	return newMockToken(c.publishErr)
}

func (c *mockClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	c.connected = false
}

func quiet(t *testing.T) {
	t.Helper()
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = orig })
}

func sampleSummary() *estimate.Summary {
	return &estimate.Summary{
		Time:     time.Unix(1700000000, 0).UTC(),
		SeqCnt:   42,
		ChanSpec: "36/80",
		RSSI:     -48,
		Mask:     0x000b,
		AoA:      []estimate.PairAngle{{Pair: estimate.PairCenterRight, Radians: 0.25, Subcarriers: 200}},
		ToF:      []estimate.CoreDelay{{Core: 0, Delay: 12 * time.Nanosecond, Tap: 1}},
	}
}

func scrape(t *testing.T, m *monitoring.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestPublishJSON(t *testing.T) {
	quiet(t)
	client := &mockClient{connected: true}
	m := monitoring.NewMetrics()
	p := newPublisher(client, Config{Topic: "csi/estimates", QoS: 1, Retain: true}, m)

	require.NoError(t, p.Publish(sampleSummary()))

	require.Len(t, client.messages, 1)
	msg := client.messages[0]
	assert.Equal(t, "csi/estimates/36/80", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retained)

	var got estimate.Summary
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, uint16(42), got.SeqCnt)
	require.Len(t, got.AoA, 1)
	assert.Equal(t, 0.25, got.AoA[0].Radians)

	require.Eventually(t, func() bool {
		return strings.Contains(scrape(t, m), `csi_publish_total{result="ok",sink="mqtt"} 1`)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPublishProto(t *testing.T) {
	quiet(t)
	client := &mockClient{connected: true}
	p := newPublisher(client, Config{Topic: "csi", Format: FormatProto}, nil)

	require.NoError(t, p.Publish(sampleSummary()))
	require.Len(t, client.messages, 1)

	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(client.messages[0].payload, &st))
	fields := st.GetFields()
	assert.Equal(t, 42.0, fields["seq"].GetNumberValue())
	assert.Equal(t, "36/80", fields["chanspec"].GetStringValue())
	assert.Equal(t, -48.0, fields["rssi"].GetNumberValue())

	tof := fields["tof"].GetListValue().GetValues()
	require.Len(t, tof, 1)
	assert.Equal(t, 12.0, tof[0].GetStructValue().GetFields()["delay_ns"].GetNumberValue())
}

func TestPublishNotConnected(t *testing.T) {
	quiet(t)
	client := &mockClient{}
	m := monitoring.NewMetrics()
	p := newPublisher(client, Config{Topic: "csi"}, m)

	assert.ErrorIs(t, p.Publish(sampleSummary()), ErrNotConnected)
	assert.Empty(t, client.messages)
	assert.Contains(t, scrape(t, m), `csi_publish_total{result="error",sink="mqtt"} 1`)

	var nilPublisher *Publisher
	assert.ErrorIs(t, nilPublisher.Publish(sampleSummary()), ErrNotConnected)
	nilPublisher.Disconnect()
}

func TestPublishDeliveryError(t *testing.T) {
	quiet(t)
	client := &mockClient{connected: true, publishErr: errors.New("broker gone")}
	m := monitoring.NewMetrics()
	p := newPublisher(client, Config{Topic: "csi"}, m)

	require.NoError(t, p.Publish(sampleSummary()), "delivery errors are reported asynchronously")
	require.Eventually(t, func() bool {
		return strings.Contains(scrape(t, m), `csi_publish_total{result="error",sink="mqtt"} 1`)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDisconnect(t *testing.T) {
	quiet(t)
	client := &mockClient{connected: true}
	p := newPublisher(client, Config{Topic: "csi"}, nil)
	p.Disconnect()
	assert.True(t, client.disconnected)
	assert.ErrorIs(t, p.Publish(sampleSummary()), ErrNotConnected)
}

func TestEncodeUnknownFormat(t *testing.T) {
	_, err := Encode(sampleSummary(), "xml")
	assert.Error(t, err)

	_, err = NewPublisher(Config{Broker: "tcp://127.0.0.1:1", Format: "xml"}, nil)
	assert.Error(t, err)

	_, err = NewPublisher(Config{}, nil)
	assert.Error(t, err)
}

func TestRandomClientID(t *testing.T) {
	a, err := randomClientID(rand.Reader, "csi")
	require.NoError(t, err)
	b, err := randomClientID(rand.Reader, "csi")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a, "csi_"))
	assert.Len(t, a, len("csi_")+16)
	assert.NotEqual(t, a, b)

	_, err = randomClientID(strings.NewReader("abc"), "csi")
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
