package probe

// Page-side scripts. Each is a function literal; browser.Page.Evaluate calls
// it with JSON-encoded arguments.

// InterceptorJS wraps the history API once per document and resets the
// capture list on every call, so re-injection never double-records.
const InterceptorJS = `() => {
	window.__capturedUrls = [];
	if (window.__permafindHooked) return;
	window.__permafindHooked = true;
	const origPush = history.pushState;
	const origReplace = history.replaceState;
	history.pushState = function() {
		origPush.apply(this, arguments);
		window.__capturedUrls.push(location.href);
	};
	history.replaceState = function() {
		origReplace.apply(this, arguments);
		window.__capturedUrls.push(location.href);
	};
	window.addEventListener('hashchange', () => {
		window.__capturedUrls.push(location.href);
	});
}`

// CapturedURLsJS reads the interceptor's list back.
const CapturedURLsJS = `() => window.__capturedUrls || []`

// ScrollJS scrolls the window down by px.
const ScrollJS = `(px) => { window.scrollBy(0, px); }`

// CardInspectJS finds the innermost element mentioning username, climbs
// levels ancestors and describes the result.
const CardInspectJS = `(username, levels, textLimit) => {
	const needle = username.toLowerCase();
	const txt = (n) => (n.innerText || '').toLowerCase();
	let hit = null;
	for (const el of document.querySelectorAll('body *')) {
		if (!txt(el).includes(needle)) continue;
		if (Array.from(el.children).some(c => txt(c).includes(needle))) continue;
		hit = el;
		break;
	}
	if (!hit) return null;
	let node = hit;
	for (let i = 0; i < levels; i++) {
		if (node.parentElement) node = node.parentElement;
	}
	return {
		tagName: node.tagName,
		id: node.id || null,
		dataset: Object.assign({}, node.dataset),
		anchors: Array.from(node.querySelectorAll('a[href]')).map(a => ({
			href: a.getAttribute('href'),
			fullHref: a.href,
			text: (a.innerText || '').substring(0, textLimit),
		})),
		dataAttrs: Array.from(
			node.querySelectorAll('[data-id],[data-build-id],[data-project-id],[data-slug]')
		).map(el => ({
			dataId: el.getAttribute('data-id'),
			dataBuildId: el.getAttribute('data-build-id'),
			dataProjectId: el.getAttribute('data-project-id'),
			dataSlug: el.getAttribute('data-slug'),
		})),
	};
}`
