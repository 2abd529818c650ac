package reverseapi

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/IBM/sarama"
)

const producerPoolSize = 5

// Producer is the slice of sarama.SyncProducer the reporter uses.
type Producer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
}

// KafkaOptions configures the reverse-report brokers. SASL is enabled
// when a username is set.
type KafkaOptions struct {
	Brokers  []string `json:"brokers"`
	Username string   `json:"username"`
	Password string   `json:"password"`
}

// ProducerPool holds five producers constructed lazily under a
// process-wide lock. Callers pick one uniformly at random; producers
// are never closed for the lifetime of the process.
type ProducerPool struct {
	opts KafkaOptions

	mu        sync.Mutex
	producers []Producer

	// newProducer is a seam for tests.
	newProducer func(opts KafkaOptions) (Producer, error)
}

func NewProducerPool(opts KafkaOptions) *ProducerPool {
	return &ProducerPool{opts: opts, newProducer: newSyncProducer}
}

// Pick returns a random producer, building the pool on first use.
func (p *ProducerPool) Pick() (Producer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.producers) == 0 {
		if err := p.buildLocked(); err != nil {
			return nil, err
		}
	}
	return p.producers[rand.Intn(len(p.producers))], nil
}

func (p *ProducerPool) buildLocked() error {
	built := make([]Producer, 0, producerPoolSize)
	for i := 0; i < producerPoolSize; i++ {
		prod, err := p.newProducer(p.opts)
		if err != nil {
			return fmt.Errorf("build kafka producer %d: %w", i, err)
		}
		built = append(built, prod)
	}
	p.producers = built
	return nil
}

func newSyncProducer(opts KafkaOptions) (Producer, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	if opts.Username != "" {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		cfg.Net.SASL.User = opts.Username
		cfg.Net.SASL.Password = opts.Password
	}
	return sarama.NewSyncProducer(opts.Brokers, cfg)
}
