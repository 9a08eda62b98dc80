// conf/validate.go

package conf

import (
	"fmt"
	"strings"
)

const (
	CooldownBackendMemory   = "memory"
	CooldownBackendDatabase = "database"

	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		func(s *Settings) error { return validatePipelineSettings(&s.Pipeline) },
		func(s *Settings) error { return validateDatabaseSettings(&s.Database) },
		func(s *Settings) error { return validateBroadcastSettings(&s.Broadcast) },
		func(s *Settings) error { return validateMQTTSettings(&s.MQTT) },
		func(s *Settings) error { return validatePushSettings(&s.Push) },
		func(s *Settings) error { return validateStreamSettings(s.Streams) },
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if settings.WebServer.APIKey == "" {
		ve.Errors = append(ve.Errors, "webserver.apikey must be set")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validatePipelineSettings(p *PipelineSettings) error {
	var errs []string
	if p.Threshold < 0 || p.Threshold > 1 {
		errs = append(errs, fmt.Sprintf("pipeline.threshold must be between 0 and 1, got %g", p.Threshold))
	}
	if p.Cooldown <= 0 {
		errs = append(errs, "pipeline.cooldown must be positive")
	}
	if p.HeartbeatTimeout <= 0 {
		errs = append(errs, "pipeline.heartbeattimeout must be positive")
	}
	if p.TopK < 1 {
		errs = append(errs, "pipeline.topk must be at least 1")
	}
	switch p.CooldownBackend {
	case CooldownBackendMemory, CooldownBackendDatabase:
	default:
		errs = append(errs, fmt.Sprintf("pipeline.cooldownbackend %q is not supported", p.CooldownBackend))
	}
	return joinErrs(errs)
}

func validateDatabaseSettings(d *DatabaseSettings) error {
	switch d.Driver {
	case DriverSQLite:
		if d.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path must be set")
		}
	case DriverMySQL:
		if d.MySQL.Host == "" || d.MySQL.Database == "" {
			return fmt.Errorf("database.mysql host and database must be set")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", d.Driver)
	}
	return nil
}

func validateBroadcastSettings(b *BroadcastSettings) error {
	var errs []string
	if b.SendTimeout <= 0 {
		errs = append(errs, "broadcast.sendtimeout must be positive")
	}
	if b.ClientBuffer < 1 {
		errs = append(errs, "broadcast.clientbuffer must be at least 1")
	}
	return joinErrs(errs)
}

func validateMQTTSettings(m *MQTTSettings) error {
	if !m.Enabled {
		return nil
	}
	var errs []string
	if m.Broker == "" {
		errs = append(errs, "mqtt.broker must be set when mqtt is enabled")
	}
	if m.Topic == "" {
		errs = append(errs, "mqtt.topic must be set when mqtt is enabled")
	}
	if m.QoS < 0 || m.QoS > 2 {
		errs = append(errs, fmt.Sprintf("mqtt.qos must be 0, 1 or 2, got %d", m.QoS))
	}
	return joinErrs(errs)
}

func validatePushSettings(p *PushSettings) error {
	if !p.Enabled {
		return nil
	}
	var errs []string
	if p.ChunkSize < 1 || p.ChunkSize > 500 {
		errs = append(errs, fmt.Sprintf("push.chunksize must be between 1 and 500, got %d", p.ChunkSize))
	}
	if p.FCM.Enabled && p.FCM.ProjectID == "" {
		errs = append(errs, "push.fcm.projectid must be set when fcm is enabled")
	}
	if p.Shoutrrr.Enabled && len(p.Shoutrrr.URLs) == 0 {
		errs = append(errs, "push.shoutrrr.urls must not be empty when shoutrrr is enabled")
	}
	return joinErrs(errs)
}

func validateStreamSettings(streams []StreamSettings) error {
	var errs []string
	seen := make(map[string]bool, len(streams))
	for i, st := range streams {
		if st.DeviceID == "" || st.URL == "" {
			errs = append(errs, fmt.Sprintf("streams[%d] requires deviceid and url", i))
			continue
		}
		if seen[st.DeviceID] {
			errs = append(errs, fmt.Sprintf("streams[%d] duplicates device %s", i, st.DeviceID))
		}
		seen[st.DeviceID] = true
	}
	return joinErrs(errs)
}

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(errs, "; "))
}
