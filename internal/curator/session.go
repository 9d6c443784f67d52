package curator

import "encoding/json"

func marshalSession(session *Session) ([]byte, error) {
	return json.Marshal(session)
}
