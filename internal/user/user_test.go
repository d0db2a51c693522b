package user

import (
	"sort"
	"testing"
)

func TestFriendSetDeduplicates(t *testing.T) {
	t.Parallel()

	u := &User{
		Followers: []int64{1, 2, 3},
		Following: []int64{3, 4},
	}

	got := u.FriendSet()
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })

	want := []int64{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("FriendSet() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("FriendSet() = %v, want %v", got, want)
		}
	}
}

func TestFriendSetEmpty(t *testing.T) {
	t.Parallel()

	u := &User{}
	if got := u.FriendSet(); len(got) != 0 {
		t.Errorf("FriendSet() = %v, want empty", got)
	}
}

func TestGraphPredicates(t *testing.T) {
	t.Parallel()

	u := &User{
		Followers:    []int64{10, 20},
		Following:    []int64{30},
		CloseFriends: []int64{10},
	}

	if !u.IsFollower(10) || u.IsFollower(30) {
		t.Error("IsFollower misclassified")
	}
	if !u.IsFollowing(30) || u.IsFollowing(10) {
		t.Error("IsFollowing misclassified")
	}
	if !u.IsCloseFriend(10) || u.IsCloseFriend(20) {
		t.Error("IsCloseFriend misclassified")
	}
}
