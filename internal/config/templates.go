package config

import (
	"fmt"
	"os"
)

// WriteTemplate writes the annotated default wampd.toml to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(Template), 0o600)
}

// Template is a wampd.toml matching server.DefaultServiceConfig.
const Template = `[router]
realm = "realm1"
workers = 1024
# zero waits forever
call_timeout = "0s"
request_timeout = "30s"
meta_api = true

[http]
addr = ":8080"
websocket_path = "/ws"
cors_origins = ["http://localhost:3000"]
serializers = ["json", "msgpack"]

[rawsocket]
addr = ":8081"
max_connections = 1024
max_message_size = 1048576
handshake_timeout = "5s"
write_timeout = "15s"

[quic]
# requires [tls] enabled
addr = ""
keepalive = "15s"

[tls]
security_mode = "development"
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""

# Declaring any topic closes the broker to undeclared topics.
# [[topics]]
# topic = "com.app."
# prefix = true
# publish = true
# subscribe = true
`
