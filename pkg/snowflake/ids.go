package snowflake

import (
	"encoding/json"
	"strconv"
)

// IDs id 列表，JSON 中编码为字符串数组，解码时数字和字符串都接受
type IDs []int64

// MarshalJSON 编码为字符串数组，nil 编码为 []
func (l IDs) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, 2+len(l)*21)
	out = append(out, '[')
	for i, id := range l {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '"')
		out = strconv.AppendInt(out, id, 10)
		out = append(out, '"')
	}
	return append(out, ']'), nil
}

// UnmarshalJSON 解码数字或字符串数组
func (l *IDs) UnmarshalJSON(data []byte) error {
	var raw []json.Number
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(IDs, 0, len(raw))
	for _, n := range raw {
		id, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return err
		}
		out = append(out, id)
	}
	*l = out
	return nil
}
