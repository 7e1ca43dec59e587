package force

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultTopicName is the channel a plugin listens on when none is configured.
const DefaultTopicName = "force_bridge"

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_.~-]+$`)

// Config is the per-plugin part of a host description.
type Config struct {
	Name      string `yaml:"name"`
	LinkName  string `yaml:"link_name"`
	TopicName string `yaml:"topic_name"`
	Namespace string `yaml:"namespace"`
}

// Channel resolves the channel the plugin subscribes to. A relative topic is
// placed under Namespace; a topic starting with "/" is used as is.
func (c Config) Channel() (string, error) {
	topic := c.TopicName
	if topic == "" {
		topic = DefaultTopicName
	}

	namespace := strings.Trim(c.Namespace, "/")

	var channel string
	switch {
	case strings.HasPrefix(topic, "/"):
		channel = topic
	case namespace != "":
		channel = "/" + namespace + "/" + topic
	default:
		channel = topic
	}

	if err := validateChannel(channel); err != nil {
		return "", err
	}
	return channel, nil
}

func validateChannel(channel string) error {
	trimmed := strings.TrimPrefix(channel, "/")
	if trimmed == "" {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if !segmentPattern.MatchString(segment) {
			return fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
		}
	}
	return nil
}
