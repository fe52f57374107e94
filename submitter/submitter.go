// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package submitter

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/NeowayLabs/wabbit"
	"github.com/buger/jsonparser"
	origamqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// InstanceID is a unique string identifier for the submitting host.
var InstanceID string

func init() {
	var err error
	InstanceID, err = getInstanceID()
	if err != nil {
		log.Fatal(err)
	}
}

func getInstanceID() (string, error) {
	b, err := os.ReadFile("/etc/machine-id")
	if err != nil {
		return os.Hostname()
	}
	return strings.TrimSpace(string(b)), nil
}

const (
	amqpReconnDelay = 2 * time.Second

	// RoutingKey is the key verdicts are published with.
	RoutingKey = "daywatch"
)

// Submitter is an interface for an entity that sends JSON data to an endpoint
type Submitter interface {
	Submit(jsonData []byte) error
	Finish()
}

// AMQPSubmitter sends verdicts to a RabbitMQ exchange.
type AMQPSubmitter struct {
	URL              string
	User             string
	Exchange         string
	Verbose          bool
	Conn             wabbit.Conn
	Channel          wabbit.Channel
	StopReconnection chan bool
	ChanMutex        sync.Mutex
	ConnMutex        sync.Mutex
	ErrorChan        chan wabbit.Error
	Reconnector      func(string) (wabbit.Conn, string, error)
}

func reconnectOnFailure(s *AMQPSubmitter) {
	for {
		select {
		case <-s.StopReconnection:
			return
		case rabbitErr := <-s.ErrorChan:
			if rabbitErr != nil {
				log.Warnf("RabbitMQ connection failed: %s", rabbitErr.Reason())
			} else {
				log.Warn("RabbitMQ connection closed")
			}
			for {
				select {
				case <-s.StopReconnection:
					return
				case <-time.After(amqpReconnDelay):
				}
				if connErr := s.connect(); connErr != nil {
					log.Warnf("RabbitMQ error: %s", connErr)
					continue
				}
				log.Infof("Reestablished connection to %s", s.URL)
				s.ErrorChan = make(chan wabbit.Error)
				s.ConnMutex.Lock()
				s.Conn.NotifyClose(s.ErrorChan)
				s.ConnMutex.Unlock()
				break
			}
		}
	}
}

func (s *AMQPSubmitter) closeConn() {
	s.ConnMutex.Lock()
	s.Conn.Close()
	s.ConnMutex.Unlock()
}

func (s *AMQPSubmitter) connect() error {
	s.ConnMutex.Lock()
	conn, exchangeType, err := s.Reconnector(s.URL)
	s.Conn = conn
	s.ConnMutex.Unlock()
	if err != nil {
		return err
	}

	s.ChanMutex.Lock()
	defer s.ChanMutex.Unlock()
	s.Channel, err = conn.Channel()
	if err != nil {
		s.closeConn()
		return err
	}
	// the reconnector decides on the exchange type, amqptest for instance
	// does not support 'fanout'
	err = s.Channel.ExchangeDeclare(s.Exchange, exchangeType, wabbit.Option{
		"durable":    true,
		"autoDelete": false,
		"internal":   false,
		"noWait":     false,
	})
	if err != nil {
		s.Channel.Close()
		s.closeConn()
		return err
	}
	log.Debugf("Submitter established connection to %s", s.URL)
	return nil
}

// MakeAMQPSubmitterWithReconnector creates a new submitter connected to a
// RabbitMQ server at the given URL, using the reconnector function as a means
// to Dial() in order to obtain a Connection object.
func MakeAMQPSubmitterWithReconnector(amqpURI string, amqpUser string,
	amqpPass string, amqpExch string, verbose bool,
	reconnector func(string) (wabbit.Conn, string, error)) (*AMQPSubmitter, error) {

	mySubmitter := &AMQPSubmitter{
		URL:              "amqp://" + amqpUser + ":" + amqpPass + "@" + amqpURI + "/",
		Verbose:          verbose,
		Reconnector:      reconnector,
		User:             amqpUser,
		Exchange:         amqpExch,
		StopReconnection: make(chan bool),
		ErrorChan:        make(chan wabbit.Error),
	}
	if verbose {
		log.Debugf("Initial connection to %s@%s...", amqpUser, amqpURI)
	}

	err := mySubmitter.connect()
	if err != nil {
		return nil, err
	}
	mySubmitter.Conn.NotifyClose(mySubmitter.ErrorChan)

	go reconnectOnFailure(mySubmitter)

	return mySubmitter, nil
}

// publishHeaders returns the AMQP headers for a verdict message. The threat
// level is copied into the headers so consumers can filter without decoding
// the body.
func publishHeaders(jsonData []byte) origamqp.Table {
	headers := origamqp.Table{"instance_id": InstanceID}
	if level, err := jsonparser.GetString(jsonData, "threat_level"); err == nil {
		headers["threat_level"] = level
	}
	return headers
}

// Submit publishes the jsonData payload via the registered RabbitMQ
// connection.
func (s *AMQPSubmitter) Submit(jsonData []byte) error {
	s.ChanMutex.Lock()
	err := s.Channel.Publish(s.Exchange, RoutingKey, jsonData, wabbit.Option{
		"contentType": "application/json",
		"headers":     publishHeaders(jsonData),
	})
	s.ChanMutex.Unlock()
	if err != nil {
		log.Warnf("RabbitMQ submission not successful: %s", err)
		return err
	}
	if s.Verbose {
		log.Debugf("RabbitMQ submission to %s successful", s.Exchange)
	}
	return nil
}

// Finish stops reconnection attempts.
func (s *AMQPSubmitter) Finish() {
	close(s.StopReconnection)
	if s.Verbose {
		log.Debugf("Submitter closing connection...")
	}
}

// DummySubmitter is a Submitter that just logs data to a logger.
type DummySubmitter struct {
	l *log.Entry
}

// MakeDummySubmitter returns a new DummySubmitter.
func MakeDummySubmitter() *DummySubmitter {
	ds := &DummySubmitter{}
	ds.l = log.WithFields(log.Fields{
		"submitter": "dummy",
	})
	return ds
}

// Submit just logs the JSON data to the given logger.
func (s *DummySubmitter) Submit(jsonData []byte) error {
	s.l.Info(string(jsonData[:]))
	return nil
}

// Finish is a no-op in this implementation.
func (s *DummySubmitter) Finish() {}

// CollectingSubmitter keeps every submitted message in memory. It is meant
// for tests and for embedding daywatch where verdicts are consumed in-process.
type CollectingSubmitter struct {
	lock     sync.Mutex
	messages [][]byte
}

// Submit appends a copy of jsonData.
func (s *CollectingSubmitter) Submit(jsonData []byte) error {
	s.lock.Lock()
	s.messages = append(s.messages, append([]byte(nil), jsonData...))
	s.lock.Unlock()
	return nil
}

// Messages returns all messages submitted so far.
func (s *CollectingSubmitter) Messages() [][]byte {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([][]byte(nil), s.messages...)
}

// Finish is a no-op in this implementation.
func (s *CollectingSubmitter) Finish() {}
