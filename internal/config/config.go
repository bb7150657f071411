// Package config loads the explicit configuration struct handed to every
// component at construction.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/validator"
)

// Role names one of the three deployments built from this module.
type Role string

const (
	RoleOrder        Role = "order"
	RoleInventory    Role = "inventory"
	RoleNotification Role = "notification"
)

const (
	CodecJSON    = "application/json"
	CodecMsgpack = "application/msgpack"
)

type Config struct {
	Role     Role
	LogLevel string
	Broker   BrokerConfig
	Topology TopologyConfig
	Publish  PublishConfig
	Consumer ConsumerConfig
	HTTP     HTTPConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Seed     SeedConfig
}

type BrokerConfig struct {
	URL            string
	MaxRetries     int
	RetryDelay     time.Duration
	ConnectTimeout time.Duration
}

// TopologyConfig selects between the shared competing-consumers queue and
// the broadcast exchange with one queue per consumer group.
type TopologyConfig struct {
	OrderQueue        string
	Exchange          string
	RoutingKey        string
	InventoryQueue    string
	NotificationQueue string
	DeadLetterSuffix  string
}

type PublishConfig struct {
	Confirm bool
	Codec   string
}

type ConsumerConfig struct {
	Prefetch    int
	MaxAttempts int
}

type HTTPConfig struct {
	Port       string
	HealthPort string
	AuthToken  string
}

type RedisConfig struct {
	Host string
	Port string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	UserName string
	UserPass string
	Name     string
	SSLMode  string
}

// SeedConfig lists the stock the inventory service creates at startup, as
// comma separated product=quantity pairs ("widget=10,gadget=5").
type SeedConfig struct {
	Inventory string
}

// Load reads the configuration for role from the environment.
func Load(role Role) (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	// DEAD_LETTER_SUFFIX= disables dead-lettering, so empty values count.
	v.AllowEmptyEnv(true)
	setDefaults(v)

	cfg := Config{
		Role:     role,
		LogLevel: v.GetString("LOG_LEVEL"),
		Broker: BrokerConfig{
			URL:            brokerURL(v),
			MaxRetries:     v.GetInt("BROKER_MAX_RETRIES"),
			RetryDelay:     v.GetDuration("BROKER_RETRY_DELAY"),
			ConnectTimeout: v.GetDuration("BROKER_CONNECT_TIMEOUT"),
		},
		Topology: TopologyConfig{
			OrderQueue:        v.GetString("ORDER_QUEUE"),
			Exchange:          v.GetString("ORDER_EXCHANGE"),
			RoutingKey:        v.GetString("ORDER_ROUTING_KEY"),
			InventoryQueue:    v.GetString("INVENTORY_QUEUE"),
			NotificationQueue: v.GetString("NOTIFICATION_QUEUE"),
			DeadLetterSuffix:  v.GetString("DEAD_LETTER_SUFFIX"),
		},
		Publish: PublishConfig{
			Confirm: v.GetBool("PUBLISH_CONFIRM"),
			Codec:   v.GetString("MESSAGE_CODEC"),
		},
		Consumer: ConsumerConfig{
			Prefetch:    v.GetInt("CONSUMER_PREFETCH"),
			MaxAttempts: v.GetInt("CONSUMER_MAX_ATTEMPTS"),
		},
		HTTP: HTTPConfig{
			Port:       v.GetString("ORDER_SERVICE_PORT"),
			HealthPort: v.GetString("HEALTH_PORT"),
			AuthToken:  strings.TrimSpace(v.GetString("AUTH_TOKEN")),
		},
		Redis: RedisConfig{
			Host: v.GetString("REDIS_HOST"),
			Port: v.GetString("REDIS_PORT"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			UserName: v.GetString("DB_USER_NAME"),
			UserPass: v.GetString("DB_USER_PASS"),
			Name:     v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Seed: SeedConfig{
			Inventory: v.GetString("INVENTORY_SEED"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("BROKER_MAX_RETRIES", 5)
	v.SetDefault("BROKER_RETRY_DELAY", 5*time.Second)
	v.SetDefault("BROKER_CONNECT_TIMEOUT", 10*time.Second)
	v.SetDefault("ORDER_QUEUE", "order.created")
	v.SetDefault("ORDER_ROUTING_KEY", "order.created")
	v.SetDefault("INVENTORY_QUEUE", "inventory.order.created")
	v.SetDefault("NOTIFICATION_QUEUE", "notification.order.created")
	v.SetDefault("DEAD_LETTER_SUFFIX", ".dead")
	v.SetDefault("PUBLISH_CONFIRM", true)
	v.SetDefault("MESSAGE_CODEC", CodecJSON)
	v.SetDefault("CONSUMER_PREFETCH", 1)
	v.SetDefault("CONSUMER_MAX_ATTEMPTS", 3)
	v.SetDefault("ORDER_SERVICE_PORT", "3000")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("RABBITMQ_PORT", "5672")
}

// brokerURL prefers RABBITMQ_URL and falls back to the individual
// RABBITMQ_* parts.
func brokerURL(v *viper.Viper) string {
	if raw := strings.TrimSpace(v.GetString("RABBITMQ_URL")); raw != "" {
		return raw
	}

	host := v.GetString("RABBITMQ_HOST")
	if host == "" {
		return ""
	}

	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(v.GetString("RABBITMQ_USER_NAME"), v.GetString("RABBITMQ_USER_PASS")),
		Host:   net.JoinHostPort(host, v.GetString("RABBITMQ_PORT")),
		Path:   "/",
	}
	return u.String()
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	v := validator.New()

	v.Check(validator.PermittedValue(c.Role, RoleOrder, RoleInventory, RoleNotification), "role", "must be order, inventory or notification")
	v.Check(c.Broker.URL != "", "RABBITMQ_URL", "must be provided (or RABBITMQ_HOST)")
	v.Check(c.Broker.MaxRetries >= 1, "BROKER_MAX_RETRIES", "must be at least 1")
	v.Check(c.Broker.RetryDelay >= 0, "BROKER_RETRY_DELAY", "must not be negative")
	v.Check(c.Broker.ConnectTimeout >= 0, "BROKER_CONNECT_TIMEOUT", "must not be negative")
	v.Check(c.Topology.OrderQueue != "", "ORDER_QUEUE", "must be provided")

	if c.Topology.Broadcast() {
		v.Check(c.Topology.RoutingKey != "", "ORDER_ROUTING_KEY", "must be provided with ORDER_EXCHANGE")
		v.Check(c.Topology.InventoryQueue != "", "INVENTORY_QUEUE", "must be provided with ORDER_EXCHANGE")
		v.Check(c.Topology.NotificationQueue != "", "NOTIFICATION_QUEUE", "must be provided with ORDER_EXCHANGE")
		v.Check(c.Topology.InventoryQueue != c.Topology.NotificationQueue, "NOTIFICATION_QUEUE", "must differ from INVENTORY_QUEUE")
	}

	switch c.Role {
	case RoleOrder:
		v.Check(c.HTTP.Port != "", "ORDER_SERVICE_PORT", "must be provided")
		v.Check(validator.PermittedValue(c.Publish.Codec, CodecJSON, CodecMsgpack), "MESSAGE_CODEC", "must be application/json or application/msgpack")
	case RoleInventory, RoleNotification:
		v.Check(c.Consumer.Prefetch >= 1, "CONSUMER_PREFETCH", "must be at least 1")
		v.Check(c.Consumer.MaxAttempts >= 1, "CONSUMER_MAX_ATTEMPTS", "must be at least 1")
	}

	if c.Database.Enabled() {
		v.Check(c.Database.Port != "", "DB_PORT", "must be provided with DB_HOST")
		v.Check(c.Database.UserName != "", "DB_USER_NAME", "must be provided with DB_HOST")
		v.Check(c.Database.Name != "", "DB_NAME", "must be provided with DB_HOST")
	}

	if c.Redis.Enabled() {
		v.Check(c.Redis.Port != "", "REDIS_PORT", "must be provided with REDIS_HOST")
	}

	if _, err := c.Seed.Stock(); err != nil {
		v.AddError("INVENTORY_SEED", err.Error())
	}

	return v.Err()
}

// Broadcast reports whether each consumer group gets its own queue bound to
// an exchange. When false every role shares OrderQueue and consumers compete.
func (t TopologyConfig) Broadcast() bool {
	return t.Exchange != ""
}

// QueueFor returns the queue a consumer role subscribes to.
func (t TopologyConfig) QueueFor(role Role) string {
	if !t.Broadcast() {
		return t.OrderQueue
	}
	switch role {
	case RoleInventory:
		return t.InventoryQueue
	case RoleNotification:
		return t.NotificationQueue
	}
	return t.OrderQueue
}

// ProducerQueues lists the queues the producer declares before publishing.
func (t TopologyConfig) ProducerQueues() []string {
	if !t.Broadcast() {
		return []string{t.OrderQueue}
	}
	return []string{t.InventoryQueue, t.NotificationQueue}
}

// DeadLetterQueue returns the parking queue for queue, or "" when
// dead-lettering is disabled.
func (t TopologyConfig) DeadLetterQueue(queue string) string {
	if t.DeadLetterSuffix == "" {
		return ""
	}
	return queue + t.DeadLetterSuffix
}

func (r RedisConfig) Enabled() bool { return r.Host != "" }

func (r RedisConfig) Addr() string { return net.JoinHostPort(r.Host, r.Port) }

func (d DatabaseConfig) Enabled() bool { return d.Host != "" }

// DSN returns the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.UserName, d.UserPass, d.Name, sslMode,
	)
}

// Stock parses the seed list. Empty entries are skipped.
func (s SeedConfig) Stock() (map[string]int, error) {
	stock := make(map[string]int)
	for _, entry := range strings.Split(s.Inventory, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		product, qty, ok := strings.Cut(entry, "=")
		product = strings.TrimSpace(product)
		if !ok || product == "" {
			return nil, fmt.Errorf("%q must look like product=quantity", entry)
		}
		n, err := strconv.Atoi(strings.TrimSpace(qty))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%q: quantity must be a whole number, zero or more", entry)
		}
		if _, dup := stock[product]; dup {
			return nil, errors.New("product " + strconv.Quote(product) + " listed twice")
		}
		stock[product] = n
	}
	return stock, nil
}
