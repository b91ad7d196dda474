package publisher

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"train-simulator/internal/schedule"
)

type NATSPublisher struct {
	nc          *nats.Conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, subjectPrefix string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("train-simulator"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, prefix: subjectPrefix, logSubjects: logSubjects, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

type PositionMessage struct {
	TrainID     string    `json:"trainId"`
	TrainName   string    `json:"trainName,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SimTime     string    `json:"simTime"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	Bearing     float64   `json:"bearing"`
	Progress    float64   `json:"progress"`
	SpeedKmph   float64   `json:"speedKmph"`
	Status      string    `json:"status"`
	NextStation string    `json:"nextStation,omitempty"`
}

// NewPositionMessage stamps a sample with the wall time it was published at
// and the simulated clock it describes.
func NewPositionMessage(s schedule.Sample, at time.Time, simTime string) PositionMessage {
	return PositionMessage{
		TrainID:     s.TrainID,
		TrainName:   s.TrainName,
		Timestamp:   at,
		SimTime:     simTime,
		Lat:         s.Lat,
		Lon:         s.Lon,
		Bearing:     s.Bearing,
		Progress:    s.Progress,
		SpeedKmph:   s.SpeedKmph,
		Status:      string(s.Status),
		NextStation: s.NextStation,
	}
}

func (p *NATSPublisher) PublishPosition(msg PositionMessage) error {
	subject := Subject(p.prefix, msg.TrainID)
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

// Subject builds "<prefix>.<trainId>". An empty prefix yields the train token alone.
func Subject(prefix, trainID string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return subjectToken(trainID)
	}
	return prefix + "." + subjectToken(trainID)
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
