// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package submitter

import (
	"fmt"

	"github.com/NeowayLabs/wabbit"
	"github.com/NeowayLabs/wabbit/amqptest"
	log "github.com/sirupsen/logrus"
)

// verdictConsumer binds a queue to the verdict exchange on a fake broker and
// hands every delivery to a callback.
type verdictConsumer struct {
	conn    wabbit.Conn
	channel wabbit.Channel
	done    chan bool
}

func newVerdictConsumer(amqpURI, exchange, queueName, tag string,
	callback func(wabbit.Delivery)) (*verdictConsumer, error) {
	conn, err := amqptest.Dial(amqpURI)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", amqpURI, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("channel: %w", err)
	}

	if err = ch.ExchangeDeclare(exchange, "direct", wabbit.Option{
		"durable": true, "delete": false, "internal": false, "noWait": false,
	}); err != nil {
		return nil, fmt.Errorf("exchange declare: %w", err)
	}
	q, err := ch.QueueDeclare(queueName, wabbit.Option{
		"durable": true, "delete": false, "exclusive": false, "noWait": false,
	})
	if err != nil {
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	if err = ch.QueueBind(q.Name(), RoutingKey, exchange, wabbit.Option{"noWait": false}); err != nil {
		return nil, fmt.Errorf("queue bind: %w", err)
	}
	deliveries, err := ch.Consume(q.Name(), tag, wabbit.Option{
		"exclusive": false, "noLocal": false, "noWait": false,
	})
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	c := &verdictConsumer{conn: conn, channel: ch, done: make(chan bool)}
	go func() {
		for d := range deliveries {
			log.Debugf("consumer %s got %dB verdict", tag, len(d.Body()))
			callback(d)
			d.Ack(false)
		}
		close(c.done)
	}()
	return c, nil
}

// Shutdown closes the channel and connection and waits for the delivery
// loop to drain.
func (c *verdictConsumer) Shutdown() error {
	if err := c.channel.Close(); err != nil {
		return fmt.Errorf("channel close: %w", err)
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("connection close: %w", err)
	}
	<-c.done
	return nil
}
