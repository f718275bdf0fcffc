package bridge

import "strings"

// streamScriptTemplate is the injected driver for one conversation
// turn. It creates the data node synchronously before sending, so the
// node exists by the time evaluation returns, then republishes the
// newest complete event on every readyState change. Only the latest
// event matters because each one carries the full message so far. The
// IIFE keeps the bindings out of the page's global scope; the script
// is evaluated once per turn in the same page.
const streamScriptTemplate = `
(() => {
const stream_div = document.createElement('DIV');
stream_div.id = "STREAM_DIV_ID";
document.body.appendChild(stream_div);
const xhr = new XMLHttpRequest();
xhr.open('POST', 'BASE_URL/backend-api/conversation');
xhr.setRequestHeader('Accept', 'text/event-stream');
xhr.setRequestHeader('Content-Type', 'application/json');
xhr.setRequestHeader('Authorization', 'Bearer BEARER_TOKEN');
xhr.responseType = 'stream';
xhr.onreadystatechange = function() {
  var newEvent;
  if(xhr.readyState == 3 || xhr.readyState == 4) {
    const newData = xhr.response.substr(xhr.seenBytes);
    try {
      const newEvents = newData.split(/\n\n/).reverse();
      newEvents.shift();
      if(newEvents[0] == "data: [DONE]") {
        newEvents.shift();
      }
      if(newEvents.length > 0) {
        newEvent = newEvents[0].substring(6);
        // Chunk boundaries can split an event; a truncated document
        // fails to parse here and the next readyState change retries.
        JSON.parse(newEvent);
      }
    } catch (err) {
      console.log(err);
      newEvent = undefined;
    }
    if(newEvent !== undefined) {
      stream_div.innerHTML = btoa(newEvent);
      xhr.seenBytes = xhr.responseText.length;
    }
  }
  if(xhr.readyState == 4) {
    const eof_div = document.createElement('DIV');
    eof_div.id = "EOF_DIV_ID";
    document.body.appendChild(eof_div);
  }
};
xhr.send(JSON.stringify(REQUEST_JSON));
})();
`

// streamRequestScript renders the driver with the request envelope
// embedded as an object literal. envelopeJSON must already be valid
// JSON; it is stringified again in-page to form the request body.
func streamRequestScript(baseURL, token, envelopeJSON string) string {
	return strings.NewReplacer(
		"BASE_URL", baseURL,
		"BEARER_TOKEN", token,
		"STREAM_DIV_ID", streamDivID,
		"EOF_DIV_ID", eofDivID,
		"REQUEST_JSON", envelopeJSON,
	).Replace(streamScriptTemplate)
}
