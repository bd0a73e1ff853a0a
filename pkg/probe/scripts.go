package probe

// Markup contract of the conferencing client under test. The UI mute state
// is only observable through the class list of the volume button, so these
// must track the client's current markup.
const (
	UsernameLabel       = "Username"
	ConnectButton       = "Connect"
	JoinIndicator       = "#userspan"
	RemoteMediaSelector = `video.media[id^="media-"]`
	RemoteMediaPrefix   = "media-"

	StatusAway   = "Away"
	StatusOnline = "Online"
)

// mediaControlsScript lists remote media elements with their muted flag
// and the class list of the volume button in the element's control panel.
// The local preview shares the media class but not the id prefix.
const mediaControlsScript = `() => {
	const results = [];
	document.querySelectorAll('video.media').forEach(m => {
		if (!m.id.startsWith('media-')) return;
		const controls = document.getElementById('controls-' + m.id.split('-')[1]);
		let ui = '';
		if (controls) {
			const btn = controls.querySelector('.volume-mute');
			if (btn) ui = btn.className;
		}
		results.push({id: m.id, muted: m.muted, ui: ui});
	});
	return results;
}`

// setStatusScript calls the page's presence function. Its result is not
// captured; the next snapshot shows whether it had an effect.
const setStatusScript = `(status) => { setStatus(status); }`
