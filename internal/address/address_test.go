package address

import "testing"

func TestNormalizeTimestamp(t *testing.T) {
	tests := []struct {
		raw  int64
		want int64
	}{
		{1700000000, 1700000000000},
		{1700000000000, 1700000000000},
		{0, 0},
		{9999999999, 9999999999000},
		{10000000000, 10000000000},
	}
	for _, tt := range tests {
		if got := NormalizeTimestamp(tt.raw); got != tt.want {
			t.Errorf("NormalizeTimestamp(%d) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}

func TestNormalizeTimestampIdempotent(t *testing.T) {
	once := NormalizeTimestamp(1700000000)
	if twice := NormalizeTimestamp(once); twice != once {
		t.Errorf("re-normalizing %d gave %d", once, twice)
	}
}

func TestFormatAddress(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"5511999999999", "+55 (11) 99999-9999"},
		{"5511999999999@s.whatsapp.net", "+55 (11) 99999-9999"},
		{"5511999999999:7@s.whatsapp.net", "+55 (11) 99999-9999"},
		{"551133334444", "+55 (11) 3333-4444"},
		{"+1 (415) 555-0100", "(41) 5555-0100"},
		{"12345", "12345"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := FormatAddress(tt.raw); got != tt.want {
			t.Errorf("FormatAddress(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestFormatterCountryCode(t *testing.T) {
	f := Formatter{CountryCode: "351"}
	if got := f.Format("35191234567890"); got != "+351 (91) 23456-7890" {
		t.Errorf("got %q", got)
	}
}

func TestExtractGroupInfo(t *testing.T) {
	g := ExtractGroupInfo("120363041234567890@g.us")
	if g == nil || !g.IsGroup || g.GroupID != "120363041234567890" {
		t.Fatalf("unexpected group info %+v", g)
	}
	if g := ExtractGroupInfo("5511999999999@s.whatsapp.net"); g != nil {
		t.Errorf("individual address detected as group: %+v", g)
	}
	if g := ExtractGroupInfo("no-domain"); g != nil {
		t.Errorf("bare address detected as group: %+v", g)
	}
}

func TestExtractSenderFromGroupAddress(t *testing.T) {
	member, ok := ExtractSenderFromGroupAddress("120363@g.us/5511988887777@s.whatsapp.net")
	if !ok || member != "5511988887777@s.whatsapp.net" {
		t.Errorf("got %q, %v", member, ok)
	}
	if _, ok := ExtractSenderFromGroupAddress("5511988887777@s.whatsapp.net"); ok {
		t.Error("expected no member for individual address")
	}
	if _, ok := ExtractSenderFromGroupAddress("foo@s.whatsapp.net/bar"); ok {
		t.Error("expected no member for non-group composite")
	}
	if got := GroupAddress("120363@g.us/5511988887777@s.whatsapp.net"); got != "120363@g.us" {
		t.Errorf("GroupAddress = %q", got)
	}
}

func TestToJID(t *testing.T) {
	if got := ToJID("5511999999999", ""); got != "5511999999999@s.whatsapp.net" {
		t.Errorf("got %q", got)
	}
	if got := ToJID("120363@g.us", ""); got != "120363@g.us" {
		t.Errorf("got %q", got)
	}
	if got := ToJID(" 5511 ", "example.net"); got != "5511@example.net" {
		t.Errorf("got %q", got)
	}
}

func TestStripDevice(t *testing.T) {
	if got := StripDevice("5511999999999:12@s.whatsapp.net"); got != "5511999999999" {
		t.Errorf("got %q", got)
	}
}
