package trigger

import "testing"

func TestDetector_Detect(t *testing.T) {
	d := New(append(DefaultNames, "@Giga_AssistantBot")...)

	tests := []struct {
		name          string
		text          string
		wantAddressed bool
		wantRemainder string
	}{
		{"name with comma", "Гига, what is X?", true, "what is X?"},
		{"uppercase name", "ГИГАЧАТ расскажи про слайд 3", true, "расскажи про слайд 3"},
		{"latin name with punctuation", "Giga! когда перерыв?", true, "когда перерыв?"},
		{"handle", "@Giga_AssistantBot что такое RAG", true, "что такое RAG"},
		{"handle lower-cased", "@giga_assistantbot вопрос", true, "вопрос"},
		{"handle without at sign", "Giga_AssistantBot вопрос", false, ""},
		{"at-prefixed short name", "@гига, привет", true, "привет"},
		{"name only", "ассистент", true, ""},
		{"name then comma token", "Гига , , вопрос", true, "вопрос"},
		{"collapses whitespace", "Гига   what\tis   X", true, "what is X"},
		{"name not first", "скажи Гига что это", false, ""},
		{"no name", "hello world", false, ""},
		{"empty", "", false, ""},
		{"whitespace only", "   \n\t", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addressed, remainder := d.Detect(tt.text)
			if addressed != tt.wantAddressed || remainder != tt.wantRemainder {
				t.Errorf("Detect(%q) = (%v, %q), want (%v, %q)",
					tt.text, addressed, remainder, tt.wantAddressed, tt.wantRemainder)
			}
		})
	}
}

func TestDetector_Names(t *testing.T) {
	d := New("Гига", " ", "@Bot")
	names := d.Names()
	if len(names) != 2 || names[0] != "Гига" || names[1] != "@Bot" {
		t.Errorf("Names() = %v, want [Гига @Bot]", names)
	}
}
