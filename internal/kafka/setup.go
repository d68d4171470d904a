package kafka

import (
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/courtlink/subscription-service/pkg/logger"
)

// EnsureTopic проверяет и при необходимости создает топик событий
// жизненного цикла подписок.
func EnsureTopic(cfg *Config, log *logger.Logger) error {
	if len(cfg.Brokers) == 0 || cfg.Brokers[0] == "" {
		return errors.New("kafka broker address is empty")
	}

	admin, err := sarama.NewClusterAdmin(cfg.Brokers, NewSaramaConfig(cfg))
	if err != nil {
		log.Errorw("Failed to connect to Kafka for topic setup", "brokers", cfg.Brokers, "error", err)
		return fmt.Errorf("kafka admin connection failed: %w", err)
	}
	defer admin.Close()

	topics, err := admin.ListTopics()
	if err != nil {
		log.Errorw("Failed to list Kafka topics", "error", err)
		return fmt.Errorf("kafka list topics failed: %w", err)
	}

	if _, ok := topics[cfg.Topic]; ok {
		log.Debugw("Topic already exists", "topic", cfg.Topic)
		return nil
	}

	log.Infow("Creating Kafka topic", "topic", cfg.Topic)
	err = admin.CreateTopic(cfg.Topic, &sarama.TopicDetail{
		NumPartitions:     3,
		ReplicationFactor: 1,
	}, false)
	if err != nil {
		var topicErr *sarama.TopicError
		if errors.As(err, &topicErr) && topicErr.Err == sarama.ErrTopicAlreadyExists {
			// Гонка с другим инстансом, топик уже на месте
			log.Warnw("Topic already existed during creation attempt", "topic", cfg.Topic)
			return nil
		}
		log.Errorw("Failed to create Kafka topic", "topic", cfg.Topic, "error", err)
		return fmt.Errorf("kafka create topic failed: %w", err)
	}

	log.Infow("Successfully created topic", "topic", cfg.Topic)
	return nil
}
