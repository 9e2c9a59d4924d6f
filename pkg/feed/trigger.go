package feed

// VisibleThreshold is the number of items that may remain below the visible
// window before the next page is requested.
const VisibleThreshold = 1

// ShouldLoadMore reports whether the visible window is close enough to the end
// of the list to request the next page.
func ShouldLoadMore(total, visible, firstVisible int) bool {
	if firstVisible < 0 {
		return false
	}
	return total-visible <= firstVisible+VisibleThreshold
}
