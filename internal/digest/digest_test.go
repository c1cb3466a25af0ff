package digest

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"holdmail/internal/model"
)

func ids(emails []Email) []int64 {
	var out []int64
	for _, e := range emails {
		out = append(out, e.ID)
	}
	return out
}

type groupIDs struct {
	Tag string
	IDs []int64
}

func summarize(groups []Group) []groupIDs {
	var out []groupIDs
	for _, g := range groups {
		out = append(out, groupIDs{Tag: g.Tag, IDs: ids(g.Emails)})
	}
	return out
}

func TestGroupByPrimaryTag(t *testing.T) {
	tests := []struct {
		name   string
		emails []Email
		want   []groupIDs
	}{
		{
			name:   "empty",
			emails: nil,
			want:   nil,
		},
		{
			name: "mixed tags keep first appearance and stable order",
			emails: []Email{
				{ID: 1, Tags: []string{"A"}},
				{ID: 2, Tags: []string{"A", "B"}},
				{ID: 3, Tags: []string{"B"}},
				{ID: 4},
				{ID: 5, Tags: []string{"A"}},
			},
			want: []groupIDs{
				{Tag: "A", IDs: []int64{1, 2, 5}},
				{Tag: "B", IDs: []int64{3}},
				{Tag: "Other", IDs: []int64{4}},
			},
		},
		{
			name: "only the primary tag counts",
			emails: []Email{
				{ID: 1, Tags: []string{"news", "tech"}},
				{ID: 2, Tags: []string{"tech", "news"}},
			},
			want: []groupIDs{
				{Tag: "news", IDs: []int64{1}},
				{Tag: "tech", IDs: []int64{2}},
			},
		},
		{
			name: "no tags at all is flat",
			emails: []Email{
				{ID: 3},
				{ID: 1, Tags: []string{}},
				{ID: 2},
			},
			want: []groupIDs{
				{Tag: "", IDs: []int64{3, 1, 2}},
			},
		},
		{
			name: "all tagged has no other group",
			emails: []Email{
				{ID: 1, Tags: []string{"x"}},
				{ID: 2, Tags: []string{"x"}},
			},
			want: []groupIDs{
				{Tag: "x", IDs: []int64{1, 2}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := summarize(GroupByPrimaryTag(tt.emails))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("GroupByPrimaryTag mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSubject(t *testing.T) {
	tests := []struct {
		name      string
		count     int
		frequency model.Frequency
		want      string
	}{
		{name: "weekly plural", count: 3, frequency: model.FrequencyWeekly, want: "Your Weekly Hold My Mail Digest – 3 emails waiting"},
		{name: "daily singular", count: 1, frequency: model.FrequencyDaily, want: "Your Daily Hold My Mail Digest – 1 email waiting"},
		{name: "none has no prefix", count: 2, frequency: model.FrequencyNone, want: "Your Hold My Mail Digest – 2 emails waiting"},
		{name: "unknown has no prefix", count: 2, frequency: "", want: "Your Hold My Mail Digest – 2 emails waiting"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Subject(tt.count, tt.frequency)); diff != "" {
				t.Errorf("Subject mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

var asOf = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

func TestComposeGroupsInOrder(t *testing.T) {
	emails := []Email{
		{ID: 1, Subject: "first-a", FromName: "Alice", Date: "Mon, 10 Mar 2025 08:00:00 +0000", Tags: []string{"Alpha"}},
		{ID: 2, Subject: "second-a", FromEmail: "bob@example.com", Tags: []string{"Alpha"}},
		{ID: 3, Subject: "only-b", FromName: "Carol", Tags: []string{"Beta"}},
		{ID: 4, Subject: "untagged", FromName: "Dan"},
		{ID: 5, Subject: "third-a", FromName: "Eve", Tags: []string{"Alpha"}},
	}

	msg := Compose(emails, asOf, model.FrequencyWeekly, nil, Options{BaseURL: "https://app.example.com/"})

	order := []string{">Alpha<", "first-a", "second-a", "third-a", ">Beta<", "only-b", ">Other<", "untagged"}
	last := -1
	for _, marker := range order {
		i := strings.Index(msg.HTML, marker)
		if i < 0 {
			t.Fatalf("marker %q not found", marker)
		}
		if i < last {
			t.Errorf("marker %q out of order", marker)
		}
		last = i
	}

	for _, want := range []string{
		"Your Weekly Hold My Mail Digest",
		"Monday, March 10, 2025",
		"5 emails",
		"bob@example.com",
		`href="https://app.example.com/inbox/3"`,
		"Mar 10, 2025, 8:00 AM",
		"View Links",
	} {
		if !strings.Contains(msg.HTML, want) {
			t.Errorf("html missing %q", want)
		}
	}
	if diff := cmp.Diff("Your Weekly Hold My Mail Digest – 5 emails waiting", msg.Subject); diff != "" {
		t.Errorf("subject mismatch (-want +got):\n%s", diff)
	}
}

func TestComposeFlatWithoutTags(t *testing.T) {
	emails := []Email{
		{ID: 1, Subject: "subject-one", FromName: "A"},
		{ID: 2, Subject: "subject-two", FromName: "B"},
	}

	msg := Compose(emails, asOf, model.FrequencyDaily, nil, Options{})

	if strings.Contains(msg.HTML, `class="tag"`) {
		t.Error("flat digest should not render group headers")
	}
	if strings.Index(msg.HTML, "subject-one") > strings.Index(msg.HTML, "subject-two") {
		t.Error("flat digest should keep input order")
	}
}

func TestComposeEscapesUserText(t *testing.T) {
	emails := []Email{
		{
			ID:       1,
			Subject:  `<script>alert("x")</script>`,
			FromName: `Tom & "Jerry"`,
			Tags:     []string{`<b>tag</b>`},
		},
	}
	links := []Link{
		{URL: `https://example.com/?a=1&b=<2>`, Title: `<img src=x onerror=alert(1)>`},
	}

	msg := Compose(emails, asOf, model.FrequencyDaily, links, Options{})

	for _, raw := range []string{"<script>", `"Jerry"`, "<b>tag</b>", "<img src=x"} {
		if strings.Contains(msg.HTML, raw) {
			t.Errorf("html contains unescaped %q", raw)
		}
	}
	for _, escaped := range []string{"&lt;script&gt;", "Tom &amp; ", "&lt;b&gt;tag&lt;/b&gt;", "&lt;img src=x onerror=alert(1)&gt;"} {
		if !strings.Contains(msg.HTML, escaped) {
			t.Errorf("html missing escaped %q", escaped)
		}
	}
}

func TestComposeLinks(t *testing.T) {
	long := "https://example.com/" + strings.Repeat("a", 80)
	created := time.Date(2025, 3, 9, 18, 30, 0, 0, time.UTC)
	links := []Link{
		{URL: "https://go.dev/blog", Title: "Go Blog", OGTitle: "ignored", OGSiteName: "go.dev", CreatedAt: created},
		{URL: "https://example.org/post", OGTitle: "From OG"},
		{URL: long},
	}

	msg := Compose([]Email{{ID: 1, Subject: "s"}}, asOf, model.FrequencyDaily, links, Options{})

	for _, want := range []string{
		"Saved Links",
		"3 links since your last digest",
		"1 email &middot; 3 links",
		"Go Blog",
		"go.dev",
		"From OG",
		long[:60] + "…",
		"Mar 9, 2025, 6:30 PM",
	} {
		if !strings.Contains(msg.HTML, want) {
			t.Errorf("html missing %q", want)
		}
	}
	if strings.Contains(msg.HTML, "ignored") {
		t.Error("explicit title should win over page title")
	}
	if strings.Contains(msg.HTML, "View Links") {
		t.Error("links button should be replaced by the links section")
	}
}

func TestComposeWithoutLinksOmitsSection(t *testing.T) {
	msg := Compose([]Email{{ID: 1, Subject: "s"}}, asOf, model.FrequencyDaily, nil, Options{})
	if strings.Contains(msg.HTML, "Saved Links") {
		t.Error("links section should be omitted")
	}
}

func TestFormatEmailDate(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	tests := []struct {
		name string
		raw  string
		loc  *time.Location
		want string
	}{
		{name: "rfc5322", raw: "Mon, 10 Mar 2025 08:05:00 +0000", loc: time.UTC, want: "Mar 10, 2025, 8:05 AM"},
		{name: "rfc3339 in zone", raw: "2025-03-10T15:00:00Z", loc: ny, want: "Mar 10, 2025, 11:00 AM"},
		{name: "garbage kept raw", raw: "sometime last week", loc: time.UTC, want: "sometime last week"},
		{name: "empty", raw: "", loc: time.UTC, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, formatEmailDate(tt.raw, tt.loc)); diff != "" {
				t.Errorf("formatEmailDate mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFromEmails(t *testing.T) {
	sender := int64(7)
	emails := []model.Email{
		{ID: 1, SenderID: &sender, Subject: "tagged", FromName: "N", FromEmail: "n@example.com", Date: "d"},
		{ID: 2, Subject: "no sender"},
	}
	got := FromEmails(emails, map[int64][]string{7: {"news", "tech"}})
	want := []Email{
		{ID: 1, Subject: "tagged", FromName: "N", FromEmail: "n@example.com", Date: "d", Tags: []string{"news", "tech"}},
		{ID: 2, Subject: "no sender"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FromEmails mismatch (-want +got):\n%s", diff)
	}
}
